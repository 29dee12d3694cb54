package domain

import (
	"encoding/json"

	"github.com/bcnelson/splunk-eam/internal/validation"
)

// InstallTarget is where an app is installed.
type InstallTarget string

const (
	InstallStandalone  InstallTarget = "standalone"
	InstallSHCDeployer InstallTarget = "shc_deployer"
)

// App is an installed Splunkbase app. Names are unique within a stack.
type App struct {
	Name          string        `json:"name"`
	SourceID      string        `json:"splunkbase_app_id"`
	Version       string        `json:"version"`
	InstallTarget InstallTarget `json:"install_target,omitempty"`
}

// UnmarshalJSON accepts "splunkbase_app_name" as an alias for name.
func (a *App) UnmarshalJSON(data []byte) error {
	type plain App
	aux := struct {
		*plain
		SplunkbaseAppName string `json:"splunkbase_app_name"`
	}{plain: (*plain)(a)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if a.Name == "" {
		a.Name = aux.SplunkbaseAppName
	}
	return nil
}

// WithTarget returns a copy whose install target defaults from the topology:
// SHC stacks install through the deployer, everything else in place.
func (a App) WithTarget(t Topology) App {
	if a.InstallTarget == "" {
		if t.Kind() == KindDistributedSHC {
			a.InstallTarget = InstallSHCDeployer
		} else {
			a.InstallTarget = InstallStandalone
		}
	}
	return a
}

// Validate checks the app fields.
func (a App) Validate() error {
	var errs validation.ValidationErrors
	errs.Check("name", a.Name, validation.ValidateAppName(a.Name))
	if a.SourceID == "" {
		errs.Add("splunkbase_app_id", "", "must not be empty")
	}
	if a.Version == "" {
		errs.Add("version", "", "must not be empty")
	}
	switch a.InstallTarget {
	case "", InstallStandalone, InstallSHCDeployer:
	default:
		errs.Add("install_target", string(a.InstallTarget), "must be one of: standalone, shc_deployer")
	}
	return errs.Err()
}

// SplunkbaseCredentials authenticate app downloads. They are never persisted.
type SplunkbaseCredentials struct {
	Username string `json:"splunkbase_username"`
	Password string `json:"splunkbase_password"`
}

// InstallAppRequest is the request body for installing a single app.
type InstallAppRequest struct {
	App
	SplunkbaseCredentials
	SplunkCredentials
	BundleOptions
}

// UnmarshalJSON decodes the embedded app (with its alias handling) alongside
// the credential and bundle fields.
func (r *InstallAppRequest) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.App); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &r.SplunkbaseCredentials); err != nil {
		return err
	}
	if err := json.Unmarshal(data, &r.SplunkCredentials); err != nil {
		return err
	}
	return json.Unmarshal(data, &r.BundleOptions)
}

// BatchAppsRequest is the request body for installing many apps at once.
type BatchAppsRequest struct {
	SplunkbaseCredentials
	SplunkCredentials
	BundleOptions
	Apps []App `json:"apps"`
}
