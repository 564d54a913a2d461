package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// AppFields 提供 app/domain/资源键与命中来源字段，供拦截请求日志复用。
func AppFields(app, domain, key, strategy, source string) logrus.Fields {
	return logrus.Fields{
		"app":      app,
		"domain":   domain,
		"key":      key,
		"strategy": strategy,
		"source":   source,
	}
}

// LifecycleFields 描述一次生命周期事件（install/activate/message）。
func LifecycleFields(app, event, digest string) logrus.Fields {
	return logrus.Fields{
		"app":    app,
		"event":  event,
		"digest": digest,
	}
}
