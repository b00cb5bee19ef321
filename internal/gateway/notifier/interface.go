package notifier

import (
	"errors"
	"strings"

	"mlbot/internal/logger"
)

// TextNotifier defines a minimal text notification interface.
// It is intentionally small so different components can depend on it without
// importing concrete implementations (e.g. Telegram).
type TextNotifier interface {
	SendText(text string) error
}

// Log writes notifications to the process log.
type Log struct {
	Prefix string
}

func (l Log) SendText(text string) error {
	prefix := strings.TrimSpace(l.Prefix)
	if prefix == "" {
		prefix = "[notify]"
	}
	logger.Infof("%s %s", prefix, strings.ReplaceAll(strings.TrimSpace(text), "\n", " | "))
	return nil
}

// Multi fans a message out to every notifier and joins their errors.
type Multi []TextNotifier

func (m Multi) SendText(text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendText(text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) SendText(string) error { return nil }
