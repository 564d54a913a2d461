package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/offline"
	"github.com/any-hub/offline-hub/internal/server"
)

// Options 汇总诊断路由依赖。
type Options struct {
	Registry    *server.AppRegistry
	Controllers *offline.Controllers
	Gatherer    prometheus.Gatherer
	Logger      *logrus.Logger
}

// RegisterAppRoutes 暴露 /-/apps 诊断与控制消息接口，以及 /-/metrics。
func RegisterAppRoutes(app *fiber.App, opts Options) {
	if app == nil || opts.Registry == nil || opts.Controllers == nil {
		return
	}

	app.Get("/-/apps", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"apps": encodeApps(opts.Registry.List(), opts.Controllers),
		})
	})

	app.Get("/-/apps/:name", func(c fiber.Ctx) error {
		route, controller, ok := lookupApp(opts, c.Params("name"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "app_not_found"})
		}
		return c.JSON(encodeApp(route, controller))
	})

	app.Post("/-/apps/:name/messages", func(c fiber.Ctx) error {
		_, controller, ok := lookupApp(opts, c.Params("name"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "app_not_found"})
		}

		msg := offline.ParseMessage(c.Body())
		// 激活不能随客户端断开而中止，否则会触发整仓清理。
		ctx := context.WithoutCancel(c.Context())
		result, err := controller.PostMessage(ctx, msg)
		if err != nil {
			logMessageFailure(opts.Logger, controller.Name(), msg, err, server.RequestID(c))
			code := "message_failed"
			if errors.Is(err, offline.ErrMigrationFailure) {
				code = "migration_failure"
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":  code,
				"result": string(result),
			})
		}

		status := fiber.StatusOK
		if result == offline.ResultIgnored || result == offline.ResultScheduled {
			status = fiber.StatusAccepted
		}
		return c.Status(status).JSON(fiber.Map{"result": string(result)})
	})

	if opts.Gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

func lookupApp(opts Options, rawName string) (server.AppRoute, *offline.Controller, bool) {
	name := strings.TrimSpace(rawName)
	if name == "" {
		return server.AppRoute{}, nil, false
	}
	controller, ok := opts.Controllers.Get(name)
	if !ok {
		return server.AppRoute{}, nil, false
	}
	for _, route := range opts.Registry.List() {
		if route.Config.Name == name {
			return route, controller, true
		}
	}
	return server.AppRoute{}, nil, false
}

type appPayload struct {
	Name           string                    `json:"name"`
	Domain         string                    `json:"domain"`
	Origin         string                    `json:"origin"`
	Manifest       string                    `json:"manifest"`
	ActivationMode string                    `json:"activation_mode"`
	WatchManifest  bool                      `json:"watch_manifest"`
	Active         *offline.GenerationStatus `json:"active,omitempty"`
	Waiting        *offline.GenerationStatus `json:"waiting,omitempty"`
}

func encodeApps(routes []server.AppRoute, controllers *offline.Controllers) []appPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]appPayload, 0, len(routes))
	for _, route := range routes {
		controller, _ := controllers.Get(route.Config.Name)
		result = append(result, encodeApp(route, controller))
	}
	return result
}

func encodeApp(route server.AppRoute, controller *offline.Controller) appPayload {
	payload := appPayload{
		Name:           route.Config.Name,
		Domain:         route.Config.Domain,
		Manifest:       route.Config.Manifest,
		ActivationMode: route.ActivationMode,
		WatchManifest:  route.Config.WatchManifest,
	}
	if route.OriginURL != nil {
		payload.Origin = route.OriginURL.String()
	}
	if controller != nil {
		status := controller.Status()
		payload.Active = status.Active
		payload.Waiting = status.Waiting
	}
	return payload
}

func logMessageFailure(logger *logrus.Logger, app string, msg offline.Message, err error, requestID string) {
	if logger == nil {
		return
	}
	fields := logrus.Fields{
		"action":  "message",
		"app":     app,
		"message": string(msg),
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	logger.WithFields(fields).WithError(err).Error("message_failed")
}
