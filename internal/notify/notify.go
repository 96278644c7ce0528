// Package notify delivers push notifications about training outcomes to
// the services configured through shoutrrr URLs.
package notify

import (
	"io"
	stdlog "log"
	"log/slog"

	"github.com/acrenier/imagerie/internal/conf"
	"github.com/acrenier/imagerie/internal/errors"
	"github.com/acrenier/imagerie/internal/logging"
	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

var log *slog.Logger

func init() {
	var err error
	log, _, err = logging.NewFileLogger("logs/notify.log", "notify", slog.LevelInfo)
	if err != nil || log == nil {
		stdlog.Printf("Failed to initialize notify file logger: %v", err)
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Sender pushes messages to every configured service URL. A disabled
// sender swallows messages silently, so callers never need to branch.
type Sender struct {
	enabled bool
	router  *router.ServiceRouter
}

// NewSender builds a Sender from the notification settings. Invalid URLs
// are a configuration error.
func NewSender(settings *conf.NotificationSettings) (*Sender, error) {
	if !settings.Enabled || len(settings.URLs) == 0 {
		return &Sender{}, nil
	}

	serviceRouter, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Component("notify").
			Context("operation", "create_sender").
			Build()
	}
	serviceRouter.SetLogger(stdlog.New(io.Discard, "", 0))

	return &Sender{enabled: true, router: serviceRouter}, nil
}

// Send pushes a titled message to all configured services.
func (s *Sender) Send(title, message string) error {
	if !s.enabled {
		return nil
	}

	params := stypes.Params{}
	if title != "" {
		params.SetTitle(title)
	}

	errs := s.router.Send(message, &params)
	for _, err := range errs {
		if err != nil {
			log.Error("Notification delivery failed", "title", title, "error", err)
			return errors.New(err).
				Category(errors.CategoryNetwork).
				Component("notify").
				Context("operation", "send").
				Build()
		}
	}

	log.Info("Notification sent", "title", title)
	return nil
}
