package config

import (
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MessageTemplates holds the human readable text used for order status
// notifications. Templates may reference {order_id} and {status}.
type MessageTemplates struct {
	Default string            `mapstructure:"default"`
	Status  map[string]string `mapstructure:"status"`
}

func DefaultMessageTemplates() MessageTemplates {
	return MessageTemplates{
		Default: "Your order #{order_id} is now {status}.",
		Status: map[string]string{
			"paid":       "Payment received for order #{order_id}. We are getting it ready.",
			"processing": "Order #{order_id} is being prepared.",
			"shipped":    "Good news! Order #{order_id} has shipped.",
			"delivered":  "Order #{order_id} has been delivered. Enjoy!",
			"cancelled":  "Order #{order_id} has been cancelled.",
		},
	}
}

// Render returns the message for status with placeholders substituted.
func (t MessageTemplates) Render(orderID, status string) string {
	tmpl := strings.TrimSpace(t.Status[status])
	if tmpl == "" {
		tmpl = t.Default
	}
	if tmpl == "" {
		tmpl = DefaultMessageTemplates().Default
	}
	return strings.NewReplacer("{order_id}", orderID, "{status}", status).Replace(tmpl)
}

type MessageTemplateHolder struct {
	current atomic.Value // holds MessageTemplates
}

// NewStaticMessageTemplateHolder returns a holder that never reloads.
func NewStaticMessageTemplateHolder(t MessageTemplates) *MessageTemplateHolder {
	holder := &MessageTemplateHolder{}
	holder.current.Store(t)
	return holder
}

func NewMessageTemplateHolder(cfg Config, log *zap.Logger) (*MessageTemplateHolder, error) {
	log = log.Named("config.messages")

	v := viper.New()
	if path := strings.TrimSpace(cfg.Messages.Path); path != "" {
		v.SetConfigFile(filepath.Clean(path))
	} else {
		v.SetConfigName("messages")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/storefront")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("STOREFRONT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultMessageTemplates()
	v.SetDefault("messages.default", defaults.Default)
	v.SetDefault("messages.status", defaults.Status)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && strings.TrimSpace(cfg.Messages.Path) != "" {
			return nil, err
		}
		watch = false
	}

	var templates MessageTemplates
	if err := v.UnmarshalKey("messages", &templates); err != nil {
		return nil, err
	}
	if err := validateMessageTemplates(templates); err != nil {
		return nil, err
	}

	holder := NewStaticMessageTemplateHolder(templates)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated MessageTemplates
		if err := v.UnmarshalKey("messages", &updated); err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateMessageTemplates(updated); err != nil {
			log.Warn("invalid templates ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("templates reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *MessageTemplateHolder) Get() MessageTemplates {
	if h == nil {
		return DefaultMessageTemplates()
	}
	value, ok := h.current.Load().(MessageTemplates)
	if !ok {
		return DefaultMessageTemplates()
	}
	return value
}

func validateMessageTemplates(t MessageTemplates) error {
	if strings.TrimSpace(t.Default) == "" {
		return errors.New("messages.default cannot be empty")
	}
	return nil
}
