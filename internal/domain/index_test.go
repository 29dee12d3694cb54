package domain

import (
	"encoding/json"
	"testing"
)

func TestIndexDefaultsAndValidate(t *testing.T) {
	idx := Index{Name: "web"}.WithDefaults()
	if idx.MaxDataSizeMB != DefaultMaxDataSizeMB || idx.DataType != DataTypeEvent {
		t.Errorf("defaults not applied: %+v", idx)
	}
	if err := idx.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	tests := []struct {
		name string
		idx  Index
	}{
		{"bad datatype", Index{Name: "web", MaxDataSizeMB: 10, DataType: "log"}},
		{"negative size", Index{Name: "web", MaxDataSizeMB: -1, DataType: DataTypeMetric}},
		{"bad name", Index{Name: "Web", MaxDataSizeMB: 10, DataType: DataTypeEvent}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.idx.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestAppAliasAndTarget(t *testing.T) {
	var app App
	if err := json.Unmarshal([]byte(`{"splunkbase_app_name":"Splunk_TA_nix","splunkbase_app_id":"833","version":"9.0.0"}`), &app); err != nil {
		t.Fatal(err)
	}
	if app.Name != "Splunk_TA_nix" {
		t.Errorf("Name = %q", app.Name)
	}
	if got := app.WithTarget(DistributedSHC{}).InstallTarget; got != InstallSHCDeployer {
		t.Errorf("SHC target = %q", got)
	}
	if got := app.WithTarget(Standalone{}).InstallTarget; got != InstallStandalone {
		t.Errorf("standalone target = %q", got)
	}
	if err := app.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestInstallAppRequestDecodesAllParts(t *testing.T) {
	body := `{"name":"app1","splunkbase_app_id":"1","version":"1.0","splunkbase_username":"u","splunk_password":"p","apply_shc_bundle":false}`
	var req InstallAppRequest
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		t.Fatal(err)
	}
	if req.Name != "app1" || req.SplunkbaseCredentials.Username != "u" || req.SplunkCredentials.Password != "p" {
		t.Errorf("unexpected request %+v", req)
	}
	if req.SHCBundle() || !req.ClusterBundle() {
		t.Errorf("bundle flags: shc=%v cluster=%v", req.SHCBundle(), req.ClusterBundle())
	}
}

func TestHostVarsAcceptsScalars(t *testing.T) {
	var inv Inventory
	body := `{"indexers":{"hosts":{"idx1":{"ansible_host":"10.0.0.1","ansible_port":22,"become":true}}}}`
	if err := json.Unmarshal([]byte(body), &inv); err != nil {
		t.Fatal(err)
	}
	vars := inv["indexers"].Hosts["idx1"]
	if vars["ansible_port"] != "22" || vars["become"] != "true" {
		t.Errorf("unexpected vars %+v", vars)
	}
	if !inv.HasHost("idx1") || inv.HasHost("idx2") {
		t.Error("HasHost mismatch")
	}
	if err := inv.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}

	if err := json.Unmarshal([]byte(`{"g":{"hosts":{"h":{"x":[1]}}}}`), &inv); err == nil {
		t.Error("expected error for non-scalar host variable")
	}
}

func TestInventoryValidateHostVars(t *testing.T) {
	tests := []struct {
		name    string
		vars    HostVars
		wantErr bool
	}{
		{"plain", HostVars{"ansible_host": "10.0.0.1"}, false},
		{"quotes", HostVars{"note": `say"hi it's`}, false},
		{"newline injects a group", HostVars{"k": "a\n[evil]\nrogue ansible_connection=local"}, true},
		{"bad variable name", HostVars{"bad key": "v"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := Inventory{"all": {Hosts: map[string]HostVars{"h1": tt.vars}}}
			if err := inv.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBatchResultStatus(t *testing.T) {
	r := NewBatchResult[Index]()
	if r.Status() != StatusSucceeded {
		t.Errorf("empty = %s", r.Status())
	}
	r.Succeeded = append(r.Succeeded, Index{Name: "a"})
	r.Failed = append(r.Failed, BatchFailure[Index]{Item: Index{Name: "b"}, Reason: "dup"})
	if r.Status() != StatusPartial {
		t.Errorf("mixed = %s", r.Status())
	}
	r.Succeeded = nil
	if r.Status() != StatusFailed {
		t.Errorf("all failed = %s", r.Status())
	}
}
