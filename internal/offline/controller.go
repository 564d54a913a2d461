package offline

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/manifest"
	"github.com/any-hub/offline-hub/internal/metrics"
)

// ErrNoWaitingWorker 表示 skipWaiting 到达时没有等待中的代际。
var ErrNoWaitingWorker = errors.New("no waiting worker")

// WorkerFactory 为一份新清单构建 Worker。
type WorkerFactory func(m *manifest.Manifest) (*Worker, error)

// MessageResult 是 PostMessage 的处理结果，直接作为诊断接口的返回值。
type MessageResult string

const (
	ResultActivated MessageResult = "activated"
	ResultScheduled MessageResult = "scheduled"
	ResultNoop      MessageResult = "noop"
	ResultIgnored   MessageResult = "ignored"
)

// ControllerOptions 描述 Controller 的依赖。
type ControllerOptions struct {
	Name      string
	Domain    string
	NewWorker WorkerFactory
	Logger    *logrus.Logger
	Metrics   *metrics.Metrics
}

// Controller 扮演单个 App 的宿主运行时：串行执行生命周期，维护 active/waiting 两个代际，
// 并处理控制消息。
type Controller struct {
	name      string
	domain    string
	newWorker WorkerFactory
	logger    *logrus.Logger
	metrics   *metrics.Metrics

	// lifecycle 串行化 Deploy 与 skipWaiting，保证 install 先于 activate 完成。
	lifecycle sync.Mutex

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker

	jobs       sync.WaitGroup
	jobCtx     context.Context
	cancelJobs context.CancelFunc
}

// NewController 创建 Controller，尚无任何激活的代际。
func NewController(opts ControllerOptions) (*Controller, error) {
	if opts.Name == "" {
		return nil, errors.New("app name required")
	}
	if opts.NewWorker == nil {
		return nil, errors.New("worker factory required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		name:       opts.Name,
		domain:     opts.Domain,
		newWorker:  opts.NewWorker,
		logger:     logger,
		metrics:    opts.Metrics,
		jobCtx:     ctx,
		cancelJobs: cancel,
	}, nil
}

// Name 返回 App 名称。
func (c *Controller) Name() string { return c.name }

// Domain 返回 App 绑定的域名。
func (c *Controller) Domain() string { return c.domain }

// Deploy 为新清单执行 install，然后立即激活（skip waiting 或当前无激活代际），
// 否则将其挂为 waiting。与当前激活代际摘要相同的清单不会重复部署。
func (c *Controller) Deploy(ctx context.Context, m *manifest.Manifest) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if active := c.Active(); active != nil && active.Manifest().Digest() == m.Digest() {
		c.logger.WithFields(logging.LifecycleFields(c.name, string(EventInstall), m.Digest())).
			Debug("manifest_unchanged")
		return nil
	}

	worker, err := c.newWorker(m)
	if err != nil {
		return err
	}
	if err := worker.Install(ctx); err != nil {
		return err
	}

	c.mu.RLock()
	hasActive := c.active != nil
	c.mu.RUnlock()
	if worker.SkipWaiting() || !hasActive {
		return c.promote(ctx, worker)
	}

	c.mu.Lock()
	previous := c.waiting
	c.waiting = worker
	c.mu.Unlock()
	if previous != nil {
		previous.setPhase(PhaseRedundant)
	}
	c.logger.WithFields(logging.LifecycleFields(c.name, string(EventInstall), m.Digest())).
		Info("worker_waiting")
	return nil
}

// promote 激活 worker 并替换当前代际。激活失败时 worker 仍然接管（缓存已清空），错误向上返回。
func (c *Controller) promote(ctx context.Context, worker *Worker) error {
	activateErr := worker.Activate(ctx)

	c.mu.Lock()
	previous := c.active
	c.active = worker
	if c.waiting == worker {
		c.waiting = nil
	}
	c.mu.Unlock()

	previousDigest := ""
	if previous != nil {
		previous.setPhase(PhaseRedundant)
		previousDigest = previous.Manifest().Digest()
	}
	c.metrics.SetActiveGeneration(c.name, previousDigest, worker.Manifest().Digest())
	return activateErr
}

// Active 返回当前激活的 Worker，可能为 nil。
func (c *Controller) Active() *Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Waiting 返回等待激活的 Worker，可能为 nil。
func (c *Controller) Waiting() *Worker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waiting
}

// Fetch 交由激活代际处理；尚无激活代际时不拦截。
func (c *Controller) Fetch(ctx context.Context, method, rawURL string) (*Response, error) {
	active := c.Active()
	if active == nil {
		return nil, ErrNotIntercepted
	}
	return active.Fetch(ctx, method, rawURL)
}

// PostMessage 处理控制消息。downloadOffline 在后台执行，可通过 Wait 等待完成。
func (c *Controller) PostMessage(ctx context.Context, msg Message) (MessageResult, error) {
	entry := c.logger.WithFields(logrus.Fields{
		"app":     c.name,
		"event":   string(EventMessage),
		"message": string(msg),
	})

	switch msg {
	case MessageSkipWaiting:
		err := c.SkipWaiting(ctx)
		if errors.Is(err, ErrNoWaitingWorker) {
			entry.Debug("message_noop")
			return ResultNoop, nil
		}
		if err != nil {
			return ResultActivated, err
		}
		entry.Info("message_handled")
		return ResultActivated, nil
	case MessageDownloadOffline:
		active := c.Active()
		if active == nil {
			entry.Debug("message_noop")
			return ResultNoop, nil
		}
		c.jobs.Add(1)
		go func() {
			defer c.jobs.Done()
			_, _ = active.DownloadOffline(c.jobCtx)
		}()
		entry.Info("message_handled")
		return ResultScheduled, nil
	default:
		entry.Debug("message_ignored")
		return ResultIgnored, nil
	}
}

// SkipWaiting 立即激活等待中的代际；没有等待代际时返回 ErrNoWaitingWorker。
func (c *Controller) SkipWaiting(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	waiting := c.Waiting()
	if waiting == nil {
		return ErrNoWaitingWorker
	}
	waiting.requestSkipWaiting()
	return c.promote(ctx, waiting)
}

// Wait 阻塞直到所有后台任务结束。
func (c *Controller) Wait() {
	c.jobs.Wait()
}

// Close 取消进行中的后台任务并等待其退出。
func (c *Controller) Close() {
	c.cancelJobs()
	c.jobs.Wait()
}

// GenerationStatus 描述一个代际的诊断信息。
type GenerationStatus struct {
	Digest    string `json:"digest"`
	Phase     Phase  `json:"phase"`
	Resources int    `json:"resources"`
	Core      int    `json:"core"`
}

// Status 是 /-/apps 诊断接口输出的 App 状态。
type Status struct {
	Name    string            `json:"name"`
	Domain  string            `json:"domain"`
	Mode    string            `json:"mode,omitempty"`
	Active  *GenerationStatus `json:"active,omitempty"`
	Waiting *GenerationStatus `json:"waiting,omitempty"`
}

// Status 返回当前代际快照。
func (c *Controller) Status() Status {
	c.mu.RLock()
	active, waiting := c.active, c.waiting
	c.mu.RUnlock()

	status := Status{Name: c.name, Domain: c.domain}
	if active != nil {
		status.Active = generationStatus(active)
		status.Mode = active.activationMode()
	}
	if waiting != nil {
		status.Waiting = generationStatus(waiting)
		status.Mode = waiting.activationMode()
	}
	return status
}

func generationStatus(w *Worker) *GenerationStatus {
	return &GenerationStatus{
		Digest:    w.Manifest().Digest(),
		Phase:     w.Phase(),
		Resources: w.Manifest().Len(),
		Core:      len(w.Manifest().Core()),
	}
}
