package cli

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/and161185/profilesync/internal/model"
	"github.com/and161185/profilesync/internal/syncengine"
)

type profileView struct {
	ID         string    `json:"id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Initials   string    `json:"initials"`
	Email      string    `json:"email"`
	Image      string    `json:"image"`
	ImageURL   string    `json:"image_url,omitempty"`
	ImageBytes int       `json:"image_bytes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Sync       string    `json:"sync"`
}

func viewOf(p model.Profile) profileView {
	v := profileView{
		ID:        p.ID,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Initials:  p.Initials(),
		Email:     p.Email,
		Image:     p.Image.Kind().String(),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
		Sync:      p.SyncState().String(),
	}
	if u, ok := p.Image.URL(); ok {
		v.ImageURL = u
	}
	if d, ok := p.Image.Data(); ok {
		v.ImageBytes = len(d)
	}
	return v
}

func viewsOf(ps []model.Profile) []profileView {
	out := make([]profileView, 0, len(ps))
	for _, p := range ps {
		out = append(out, viewOf(p))
	}
	return out
}

type reportView struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Pushed     []string          `json:"pushed"`
	Failed     map[string]string `json:"failed,omitempty"`
}

func reportOf(r syncengine.Report) reportView {
	v := reportView{
		RunID:      r.RunID.String(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Pushed:     append([]string{}, r.Pushed...),
	}
	sort.Strings(v.Pushed)
	if len(r.Failed) > 0 {
		v.Failed = make(map[string]string, len(r.Failed))
		for id, err := range r.Failed {
			v.Failed[id] = err.Error()
		}
	}
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
