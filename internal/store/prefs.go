package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

// UIPrefs are the widget preferences surfaces restore on mount. They are
// best-effort: an unparseable stored value falls back to its default instead
// of failing.
type UIPrefs struct {
	Volume   float64 `json:"volume"`
	WidgetX  int     `json:"widgetX"`
	WidgetY  int     `json:"widgetY"`
	Expanded bool    `json:"expanded"`
	Theme    string  `json:"theme"`
}

func DefaultUIPrefs() UIPrefs {
	return UIPrefs{Volume: 1.0, Theme: "default"}
}

const prefUpsert = `INSERT INTO prefs (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`

func (s *Store) GetPref(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting pref: %w", err)
	}
	return value, nil
}

func (s *Store) SetPref(key, value string) error {
	if _, err := s.db.Exec(prefUpsert, key, value); err != nil {
		return fmt.Errorf("setting pref %q: %w", key, err)
	}
	return nil
}

func (s *Store) GetUIPrefs() (UIPrefs, error) {
	p := DefaultUIPrefs()

	raw, err := s.GetPref("ui.volume")
	if err != nil {
		return p, err
	}
	if v, convErr := strconv.ParseFloat(raw, 64); convErr == nil && raw != "" && v >= 0 && v <= 1 {
		p.Volume = v
	}
	if raw, err = s.GetPref("ui.widget_x"); err != nil {
		return p, err
	}
	if v, convErr := strconv.Atoi(raw); convErr == nil && raw != "" {
		p.WidgetX = v
	}
	if raw, err = s.GetPref("ui.widget_y"); err != nil {
		return p, err
	}
	if v, convErr := strconv.Atoi(raw); convErr == nil && raw != "" {
		p.WidgetY = v
	}
	if raw, err = s.GetPref("ui.expanded"); err != nil {
		return p, err
	}
	if v, convErr := strconv.ParseBool(raw); convErr == nil && raw != "" {
		p.Expanded = v
	}
	if raw, err = s.GetPref("ui.theme"); err != nil {
		return p, err
	}
	if raw != "" {
		p.Theme = raw
	}
	return p, nil
}

func (s *Store) SetUIPrefs(p UIPrefs) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, kv := range []struct{ k, v string }{
		{"ui.volume", strconv.FormatFloat(p.Volume, 'f', -1, 64)},
		{"ui.widget_x", strconv.Itoa(p.WidgetX)},
		{"ui.widget_y", strconv.Itoa(p.WidgetY)},
		{"ui.expanded", strconv.FormatBool(p.Expanded)},
		{"ui.theme", p.Theme},
	} {
		if _, err := tx.Exec(prefUpsert, kv.k, kv.v); err != nil {
			return fmt.Errorf("setting %q: %w", kv.k, err)
		}
	}
	return tx.Commit()
}

// GetOwnerShuffle returns the viewer's remembered shuffle preference for an
// owner's playlist, or nil if none was recorded (or the value is garbage).
func (s *Store) GetOwnerShuffle(ownerID string) (*bool, error) {
	raw, err := s.GetPref("shuffle." + ownerID)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	v, convErr := strconv.ParseBool(raw)
	if convErr != nil {
		return nil, nil
	}
	return &v, nil
}

func (s *Store) SetOwnerShuffle(ownerID string, enabled bool) error {
	return s.SetPref("shuffle."+ownerID, strconv.FormatBool(enabled))
}
