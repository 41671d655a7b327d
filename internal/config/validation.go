package config

import (
	"fmt"
	"net/url"

	"git.home.luguber.info/inful/chainloader/internal/foundation/errors"
)

// Validate checks the defaulted configuration.
func Validate(cfg *Config) error {
	v := &configurationValidator{config: cfg}
	for _, step := range []func() error{v.validateComponent, v.validateRemote, v.validateUpdate} {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

type configurationValidator struct {
	config *Config
}

func (cv *configurationValidator) validateComponent() error {
	if cv.config.Component.ID == "" {
		return errors.ConfigError("component.id is required").Build()
	}
	if cv.config.Component.Platform == "" {
		return errors.ConfigError("component.platform is required").WithContext("component", cv.config.Component.ID).Build()
	}
	return nil
}

func (cv *configurationValidator) validateRemote() error {
	raw := cv.config.Remote.BaseURL
	if raw == "" {
		return errors.ConfigError("remote.base_url is required").Build()
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.ConfigError(fmt.Sprintf("remote.base_url must be an http(s) URL, got %q", raw)).Build()
	}
	return nil
}

func (cv *configurationValidator) validateUpdate() error {
	answer := cv.config.Update.FallbackPromptAnswer
	if answer != "" && cv.config.Update.FallbackAnswer() == nil {
		return errors.ConfigError(fmt.Sprintf("update.fallback_prompt_answer must be accept or reject, got %q", answer)).Build()
	}
	return nil
}
