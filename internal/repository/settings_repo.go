package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/san-kum/bookshelf/internal/model"
)

type SettingsRepository struct {
	store *Store
}

func NewSettingsRepository(store *Store) *SettingsRepository {
	return &SettingsRepository{store: store}
}

// Load returns the stored settings with defaults applied. A missing file is
// created with the defaults.
func (r *SettingsRepository) Load() (model.Settings, error) {
	path := r.store.settingsPath()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		settings := model.DefaultSettings()
		if err := r.Save(settings); err != nil {
			return settings, err
		}
		log.Info().Str("file", path).Msg("Created default settings")
		return settings, nil
	}
	if err != nil {
		return model.Settings{}, &StorageError{Op: "read", Path: path, Err: err}
	}

	var settings model.Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return model.Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	return settings.WithDefaults(), nil
}

func (r *SettingsRepository) Save(settings model.Settings) error {
	return writeJSON(r.store.settingsPath(), settings.WithDefaults())
}
