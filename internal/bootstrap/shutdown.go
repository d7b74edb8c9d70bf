package bootstrap

import (
	"errors"

	"kcl-antivirus/internal/database"
	"kcl-antivirus/internal/logging"
)

// Shutdown stops intake first, then drains running work, then releases storage
func Shutdown(c *Components) error {
	logging.Info("Starting graceful shutdown...")
	var errs []error

	if c.Session != nil {
		logging.Info("Closing gateway session...")
		if err := c.Session.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.Commands != nil {
		logging.Info("Waiting for command lockdowns...")
		c.Commands.Wait()
	}

	if c.Engine != nil {
		logging.Info("Stopping antivirus engine...")
		c.Engine.Stop()
	}

	if c.Exporter != nil {
		logging.Info("Stopping metrics exporter...")
		if err := c.Exporter.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}

	logging.Info("Closing database...")
	if err := database.Close(); err != nil {
		errs = append(errs, err)
	}

	logging.Info("Graceful shutdown complete")
	if err := logging.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
