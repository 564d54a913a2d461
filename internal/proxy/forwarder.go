package proxy

import (
	"fmt"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/offline"
	"github.com/any-hub/offline-hub/internal/server"
)

// AppHandler 处理已经解析到 Controller 的请求。
type AppHandler interface {
	Serve(fiber.Ctx, *server.AppRoute, *offline.Controller) error
}

// AppHandlerFunc adapts a function to the AppHandler interface.
type AppHandlerFunc func(fiber.Ctx, *server.AppRoute, *offline.Controller) error

// Serve makes AppHandlerFunc satisfy AppHandler.
func (f AppHandlerFunc) Serve(c fiber.Ctx, route *server.AppRoute, controller *offline.Controller) error {
	return f(c, route, controller)
}

// Forwarder 根据 AppRoute 的名称查找 Controller 并交给 handler，负责兜底 panic 与缺失的 Controller。
type Forwarder struct {
	controllers *offline.Controllers
	handler     AppHandler
	logger      *logrus.Logger
}

// NewForwarder 创建 Forwarder，实现 server.ProxyHandler。
func NewForwarder(controllers *offline.Controllers, handler AppHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		controllers: controllers,
		handler:     handler,
		logger:      logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.AppRoute) error {
	requestID := server.RequestID(c)
	controller := f.lookup(route)
	if controller == nil || f.handler == nil {
		return f.respondMissingController(c, route, requestID)
	}
	return f.invokeHandler(c, route, controller, requestID)
}

func (f *Forwarder) lookup(route *server.AppRoute) *offline.Controller {
	if route == nil || f.controllers == nil {
		return nil
	}
	controller, ok := f.controllers.Get(route.Config.Name)
	if !ok {
		return nil
	}
	return controller
}

func (f *Forwarder) respondMissingController(c fiber.Ctx, route *server.AppRoute, requestID string) error {
	f.logAppError(route, "app_controller_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "app_controller_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.AppRoute, controller *offline.Controller, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return f.handler.Serve(c, route, controller)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.AppRoute, recovered interface{}, requestID string) error {
	f.logAppError(route, "handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logAppError(route *server.AppRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := routeFields(route, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("app controller unavailable")
}

func routeFields(route *server.AppRoute, requestID string) logrus.Fields {
	fields := logrus.Fields{
		"app":    "",
		"domain": "",
	}
	if route != nil {
		fields["app"] = route.Config.Name
		fields["domain"] = route.Config.Domain
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
