// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package transport_discord

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/flosch/pongo2/v6"

	internal_type "github.com/rapidaai/recorder/api/recording-api/internal/type"
)

const (
	DefaultStartTemplate  = "Recording started in <#{{ channel }}> (session `{{ session }}`, {{ format }})."
	DefaultStopTemplate   = "Recording `{{ session }}` finished after {{ duration }}: {% for f in files %}`{{ f }}`{% if not forloop.Last %}, {% endif %}{% endfor %}"
	DefaultFailedTemplate = "Recording `{{ session }}` failed during {{ stage }}: {{ error }}"
)

func init() {
	// notifications are plain chat text, not html
	pongo2.SetAutoescape(false)
}

// Templates renders log channel notifications.
type Templates struct {
	start  *pongo2.Template
	stop   *pongo2.Template
	failed *pongo2.Template
}

// ParseTemplates compiles the notification templates. Empty sources use the
// defaults.
func ParseTemplates(start, stop, failed string) (*Templates, error) {
	var t Templates
	for _, tpl := range []struct {
		dst    **pongo2.Template
		source string
		def    string
	}{
		{&t.start, start, DefaultStartTemplate},
		{&t.stop, stop, DefaultStopTemplate},
		{&t.failed, failed, DefaultFailedTemplate},
	} {
		source := tpl.source
		if source == "" {
			source = tpl.def
		}
		compiled, err := pongo2.FromString(source)
		if err != nil {
			return nil, fmt.Errorf("failed to parse notification template: %w", err)
		}
		*tpl.dst = compiled
	}
	return &t, nil
}

func sessionContext(meta internal_type.SessionMetadata) pongo2.Context {
	return pongo2.Context{
		"session":      meta.ID,
		"group":        meta.GroupID,
		"channel":      meta.ChannelID,
		"initiator":    meta.InitiatorID,
		"format":       string(meta.Options.Format),
		"participants": meta.Participants,
		"duration":     meta.Duration().Round(time.Second).String(),
	}
}

// Render returns the notification for ev, empty when ev is not announced.
func (t *Templates) Render(ev internal_type.Event) (groupID, content string, err error) {
	switch e := ev.(type) {
	case internal_type.StartEvent:
		content, err = t.start.Execute(sessionContext(e.Session))
		return e.Session.GroupID, content, err
	case internal_type.StopEvent:
		ctx := sessionContext(e.Session)
		files := make([]string, 0, len(e.Artifacts))
		for _, a := range e.Artifacts {
			files = append(files, filepath.Base(a))
		}
		ctx["files"] = files
		content, err = t.stop.Execute(ctx)
		return e.Session.GroupID, content, err
	case internal_type.ErrorEvent:
		if !e.Fatal {
			return "", "", nil
		}
		ctx := sessionContext(e.Session)
		ctx["stage"] = e.Stage
		ctx["error"] = fmt.Sprint(e.Err)
		content, err = t.failed.Execute(ctx)
		return e.Session.GroupID, content, err
	}
	return "", "", nil
}
