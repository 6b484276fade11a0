package config

import "fmt"

// Validate checks the configuration for invalid values, failing fast with
// sentinel errors so callers can match with errors.Is().
func (c *Config) Validate() error {
	if err := c.validateModel(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateKnowledge(); err != nil {
		return err
	}
	return c.validateEvals()
}

func (c *Config) validateModel() error {
	switch c.Provider {
	case ProviderGoogleAI, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("%w: %q (expected one of: %s, %s, %s)",
			ErrInvalidProvider, c.Provider,
			ProviderGoogleAI, ProviderOpenAI, ProviderOllama)
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (expected 0.0-2.0)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("%w: %d (expected >= 0, 0 = provider default)",
			ErrInvalidMaxTokens, c.MaxOutputTokens)
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address must not be empty", ErrInvalidListenAddr)
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("%w: %v (expected > 0)", ErrInvalidSessionTimeout, c.SessionIdleTimeout)
	}
	return nil
}

func (c *Config) validateKnowledge() error {
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (expected 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	return nil
}

func (c *Config) validateEvals() error {
	if c.IsEvaluation && c.EvalsDataFilePath == "" {
		return fmt.Errorf("%w: IS_EVALUATION is on but EVALS_DATA_FILE_PATH is empty",
			ErrMissingEvalsDataFile)
	}
	return nil
}
