package store

import (
	"errors"
	"fmt"
	"strconv"

	"go-portwatch/internal/models"
)

const (
	KeyEndpointURL  = "endpointUrl"
	KeyMaxRetries   = "maxRetries"
	KeyInitialDelay = "initialDelayMs"
	KeyMaxDelay     = "maxDelayMs"
	KeyCustomURLs   = "customUrls"
)

// LoadSettings overlays stored values on def. Keys that were never saved
// keep their default.
func LoadSettings(s Store, def models.Settings) (models.Settings, error) {
	all, err := s.All()
	if err != nil {
		return def, fmt.Errorf("load settings: %w", err)
	}
	out := def
	var errs []error
	if v, ok := all[KeyEndpointURL]; ok && v != "" {
		out.EndpointURL = v
	}
	if v, ok := all[KeyCustomURLs]; ok {
		out.CustomURLs = v
	}
	for key, dst := range map[string]*int{
		KeyMaxRetries:   &out.MaxRetries,
		KeyInitialDelay: &out.InitialDelay,
		KeyMaxDelay:     &out.MaxDelay,
	} {
		v, ok := all[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("setting %s: %w", key, err))
			continue
		}
		*dst = n
	}
	return out, errors.Join(errs...)
}

func SaveSettings(s Store, settings models.Settings) error {
	for _, kv := range [][2]string{
		{KeyEndpointURL, settings.EndpointURL},
		{KeyMaxRetries, strconv.Itoa(settings.MaxRetries)},
		{KeyInitialDelay, strconv.Itoa(settings.InitialDelay)},
		{KeyMaxDelay, strconv.Itoa(settings.MaxDelay)},
		{KeyCustomURLs, settings.CustomURLs},
	} {
		if err := s.Set(kv[0], kv[1]); err != nil {
			return fmt.Errorf("save %s: %w", kv[0], err)
		}
	}
	return nil
}

func SaveEndpoint(s Store, endpoint string) error {
	if err := s.Set(KeyEndpointURL, endpoint); err != nil {
		return fmt.Errorf("save endpoint: %w", err)
	}
	return nil
}
