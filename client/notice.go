package client

import log "github.com/sirupsen/logrus"

type NoticeKind string

const (
	NoticeValidation   NoticeKind = "validation"
	NoticePersistence  NoticeKind = "persistence"
	NoticeUnauthorized NoticeKind = "unauthorized"
	NoticeChannel      NoticeKind = "channel"
)

// Notice is a user-visible, non-fatal message.
type Notice struct {
	Kind    NoticeKind
	TaskID  string
	Message string
	Err     error
}

type Notifier interface {
	Notify(Notice)
}

type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a logrus logger.
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	entry := logger.WithFields(log.Fields{"notice": n.Kind, "task_id": n.TaskID})
	if n.Err != nil {
		entry = entry.WithError(n.Err)
	}
	entry.Warn(n.Message)
}
