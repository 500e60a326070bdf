package models

import "fmt"

// Record is one row of any registry resource. Values are keyed by field name and hold the
// typed value of each column: int64 ids for references, time.Time in UTC for timestamps, nil
// when unset.
type Record struct {
	ID       int64          `json:"id"`
	Resource string         `json:"-"`
	Values   map[string]any `json:"-"`
}

// Get returns the value of a field, or nil when it is unset
func (r *Record) Get(field string) any {
	if r == nil || r.Values == nil {
		return nil
	}
	return r.Values[field]
}

// RefID returns the referenced id held by a reference field
func (r *Record) RefID(field string) (int64, bool) {
	id, ok := r.Get(field).(int64)
	return id, ok
}

// Ref is how a referenced record is rendered in results
type Ref struct {
	ID    int64  `json:"id"`
	Label string `json:"label"`
}

// Page selects a window of search results. A zero Limit means unlimited.
type Page struct {
	Limit  int
	Offset int
}

// RegistrationForm is the payload a node reports about itself on registration
type RegistrationForm struct {
	UniqueID       string `json:"unique_id"`
	Name           string `json:"name"`
	SerialNumber   string `json:"serial_number"`
	ProcessorCount *int64 `json:"processor_count,omitempty"`
	Uptime         string `json:"uptime"`
	Status         string `json:"status,omitempty"`
	DataCenter     string `json:"data_center,omitempty"`
	PhysicalDevice string `json:"physical_device,omitempty"`

	HardwareProfile   *HardwareProfileForm   `json:"hardware_profile,omitempty"`
	OperatingSystem   *OperatingSystemForm   `json:"operating_system,omitempty"`
	EC2               map[string]string      `json:"ec2,omitempty"`
	NetworkInterfaces []NetworkInterfaceForm `json:"network_interfaces,omitempty"`
	// GuestVMs is only reported by hypervisors; nil leaves the current set untouched
	GuestVMs []string `json:"guest_vms,omitempty"`
}

// HardwareProfileForm identifies the hardware a node runs on
type HardwareProfileForm struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

// Name is the hardware profile natural key derived from manufacturer and model
func (f *HardwareProfileForm) Name() string {
	return f.Manufacturer + " " + f.Model
}

// OperatingSystemForm identifies the operating system a node runs
type OperatingSystemForm struct {
	Name          string `json:"name"`
	Variant       string `json:"variant"`
	VersionNumber string `json:"version_number"`
	Architecture  string `json:"architecture"`
	Description   string `json:"description"`
}

// NetworkInterfaceForm is one interface reported by a node
type NetworkInterfaceForm struct {
	UniqueID        string `json:"unique_id"`
	Name            string `json:"name"`
	IPAddress       string `json:"ip_address"`
	BondMaster      string `json:"bond_master"`
	PortDescription string `json:"port_description"`
	PortNumber      string `json:"port_number"`
	PortSwitch      string `json:"port_switch"`
	PortVLAN        string `json:"port_vlan"`
	SeenMACAddress  string `json:"seen_mac_address"`
}

// Validate validates the registration payload
func (f *RegistrationForm) Validate() []string {
	var errors []string

	if f.UniqueID == "" {
		errors = append(errors, "unique_id is required")
	}
	if f.HardwareProfile != nil && (f.HardwareProfile.Manufacturer == "" || f.HardwareProfile.Model == "") {
		errors = append(errors, "hardware_profile requires manufacturer and model")
	}
	if f.OperatingSystem != nil && f.OperatingSystem.Name == "" {
		errors = append(errors, "operating_system requires a name")
	}
	if len(f.EC2) > 0 && f.EC2["instance_id"] == "" {
		errors = append(errors, "ec2 requires instance_id")
	}
	for i, nic := range f.NetworkInterfaces {
		if nic.UniqueID == "" {
			errors = append(errors, fmt.Sprintf("network_interfaces[%d] requires unique_id", i))
		}
	}

	return errors
}
