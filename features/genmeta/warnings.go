package genmeta

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Warnings collects non fatal problems of one resolution pass.
// Each one is also logged at warn level, prefixed by Source if set.
type Warnings struct {
	Source   string
	Messages []string
}

func (w *Warnings) Add(format string, args ...any) {
	if w == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	w.Messages = append(w.Messages, msg)
	if w.Source != "" {
		log.Warnf("%s: %s", w.Source, msg)
	} else {
		log.Warn(msg)
	}
}
