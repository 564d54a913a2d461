package offline

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Controllers 按 App 名称与域名索引 Controller，供代理与诊断路由共享。
type Controllers struct {
	mu       sync.RWMutex
	byName   map[string]*Controller
	byDomain map[string]*Controller
}

// NewControllers 创建空索引。
func NewControllers() *Controllers {
	return &Controllers{
		byName:   make(map[string]*Controller),
		byDomain: make(map[string]*Controller),
	}
}

// Add 注册 Controller，名称或域名重复时报错。
func (cs *Controllers) Add(c *Controller) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, exists := cs.byName[c.Name()]; exists {
		return fmt.Errorf("controller %s already registered", c.Name())
	}
	domain := strings.ToLower(c.Domain())
	if domain != "" {
		if _, exists := cs.byDomain[domain]; exists {
			return fmt.Errorf("domain %s already registered", c.Domain())
		}
		cs.byDomain[domain] = c
	}
	cs.byName[c.Name()] = c
	return nil
}

// Get 按名称查找。
func (cs *Controllers) Get(name string) (*Controller, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.byName[name]
	return c, ok
}

// ForDomain 按域名查找（忽略大小写）。
func (cs *Controllers) ForDomain(domain string) (*Controller, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.byDomain[strings.ToLower(domain)]
	return c, ok
}

// List 按名称排序返回全部 Controller。
func (cs *Controllers) List() []*Controller {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	list := make([]*Controller, 0, len(cs.byName))
	for _, c := range cs.byName {
		list = append(list, c)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name() < list[j].Name() })
	return list
}

// Close 关闭全部 Controller 的后台任务。
func (cs *Controllers) Close() {
	for _, c := range cs.List() {
		c.Close()
	}
}
