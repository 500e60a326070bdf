package registry

// Resource type names
const (
	Statuses           = "statuses"
	HardwareProfiles   = "hardware_profiles"
	OperatingSystems   = "operating_systems"
	DataCenters        = "data_centers"
	PhysicalLocations  = "physical_locations"
	PhysicalRacks      = "physical_racks"
	PhysicalElevations = "physical_elevations"
	PhysicalDevices    = "physical_devices"
	EC2Instances       = "ec2_instances"
	NetworkInterfaces  = "network_interfaces"
	NodeGroups         = "node_groups"
	Tags               = "tags"
	Nodes              = "nodes"
)

// Relationship names used by the services
const (
	RelNetworkInterfaces = "network_interfaces"
	RelGuestVMs          = "guest_vms"
)

// Default returns the CMDB resource types. Each call builds a fresh registry.
func Default() *Registry {
	return MustNew(
		&Resource{
			Name:          Statuses,
			NaturalKey:    []string{"name"},
			Cacheable:     true,
			DefaultFields: []string{"name", "description"},
			Fields: []*Field{
				{Name: "name", Kind: String},
				{Name: "description", Kind: String},
			},
		},
		&Resource{
			Name:          HardwareProfiles,
			NaturalKey:    []string{"name"},
			Cacheable:     true,
			DefaultFields: []string{"name", "manufacturer", "model"},
			Fields: []*Field{
				{Name: "name", Kind: String},
				{Name: "manufacturer", Kind: String},
				{Name: "model", Kind: String},
				{Name: "rack_u", Kind: Int},
			},
		},
		&Resource{
			Name:          OperatingSystems,
			NaturalKey:    []string{"name"},
			Cacheable:     true,
			DefaultFields: []string{"name", "variant", "version_number", "architecture"},
			Fields: []*Field{
				{Name: "name", Kind: String},
				{Name: "variant", Kind: String},
				{Name: "version_number", Kind: String},
				{Name: "architecture", Kind: String},
				{Name: "description", Kind: String},
			},
		},
		&Resource{
			Name:          DataCenters,
			NaturalKey:    []string{"name"},
			Cacheable:     true,
			DefaultFields: []string{"name", "status"},
			Fields: []*Field{
				{Name: "name", Kind: String},
				{Name: "status", Column: "status_id", Kind: Reference, Target: Statuses},
			},
			Relationships: []*Relationship{
				tagsOf(DataCenters, "tag_data_center_assignments", "data_center_id"),
			},
		},
		&Resource{
			Name:          PhysicalLocations,
			NaturalKey:    []string{"name"},
			DefaultFields: []string{"name", "provider", "city"},
			Fields: []*Field{
				{Name: "name", Kind: String},
				{Name: "provider", Kind: String},
				{Name: "address_1", Kind: String},
				{Name: "address_2", Kind: String},
				{Name: "city", Kind: String},
				{Name: "admin_area", Kind: String},
				{Name: "country", Kind: String},
				{Name: "postal_code", Kind: String},
				{Name: "contact_name", Kind: String},
				{Name: "phone_number", Kind: String},
			},
			Relationships: []*Relationship{
				{Name: "physical_racks", Target: PhysicalRacks, Kind: Collection, RemoteColumn: "physical_location_id"},
			},
		},
		&Resource{
			Name:          PhysicalRacks,
			NaturalKey:    []string{"name", "physical_location"},
			DefaultFields: []string{"name", "physical_location"},
			Fields: []*Field{
				{Name: "name", Kind: String},
				{Name: "physical_location", Column: "physical_location_id", Kind: Reference, Target: PhysicalLocations},
				{Name: "server_subnet", Kind: String},
			},
			Relationships: []*Relationship{
				{Name: "physical_elevations", Target: PhysicalElevations, Kind: Collection, RemoteColumn: "physical_rack_id"},
			},
		},
		&Resource{
			Name:          PhysicalElevations,
			NaturalKey:    []string{"elevation", "physical_rack"},
			DefaultFields: []string{"elevation", "physical_rack"},
			Fields: []*Field{
				{Name: "elevation", Kind: String},
				{Name: "physical_rack", Column: "physical_rack_id", Kind: Reference, Target: PhysicalRacks},
			},
		},
		&Resource{
			Name:          PhysicalDevices,
			NaturalKey:    []string{"serial_number"},
			DefaultFields: []string{"serial_number", "status", "hardware_profile"},
			Fields: []*Field{
				{Name: "serial_number", Kind: String},
				{Name: "mac_address_1", Kind: UniqueID},
				{Name: "mac_address_2", Kind: UniqueID},
				{Name: "oob_ip_address", Kind: String},
				{Name: "oob_mac_address", Kind: UniqueID},
				{Name: "hardware_profile", Column: "hardware_profile_id", Kind: Reference, Target: HardwareProfiles},
				{Name: "physical_location", Column: "physical_location_id", Kind: Reference, Target: PhysicalLocations},
				{Name: "physical_rack", Column: "physical_rack_id", Kind: Reference, Target: PhysicalRacks},
				{Name: "physical_elevation", Column: "physical_elevation_id", Kind: Reference, Target: PhysicalElevations},
				{Name: "status", Column: "status_id", Kind: Reference, Target: Statuses},
			},
			Relationships: []*Relationship{
				tagsOf(PhysicalDevices, "tag_physical_device_assignments", "physical_device_id"),
				{Name: "node", Target: Nodes, Kind: Singular, RemoteColumn: "physical_device_id"},
			},
		},
		&Resource{
			Name:          EC2Instances,
			NaturalKey:    []string{"instance_id"},
			DefaultFields: []string{"instance_id", "hostname", "instance_type", "availability_zone"},
			Fields: []*Field{
				{Name: "instance_id", Kind: String},
				{Name: "account_id", Kind: String},
				{Name: "ami_id", Kind: String},
				{Name: "hostname", Kind: String},
				{Name: "instance_type", Kind: String},
				{Name: "availability_zone", Kind: String},
				{Name: "profile", Kind: String},
				{Name: "reservation_id", Kind: String},
				{Name: "security_groups", Kind: String},
			},
		},
		&Resource{
			Name:          NetworkInterfaces,
			NaturalKey:    []string{"unique_id"},
			DefaultFields: []string{"unique_id", "name", "ip_address"},
			Fields: []*Field{
				{Name: "unique_id", Kind: UniqueID},
				{Name: "name", Kind: String},
				{Name: "ip_address", Kind: String},
				{Name: "bond_master", Kind: String},
				{Name: "port_description", Kind: String},
				{Name: "port_number", Kind: String},
				{Name: "port_switch", Kind: String},
				{Name: "port_vlan", Kind: String},
				{Name: "seen_mac_address", Kind: UniqueID},
			},
			Relationships: []*Relationship{
				{
					Name: "nodes", Target: Nodes, Kind: Collection,
					JoinTable: "network_interface_assignments", LocalColumn: "network_interface_id", RemoteColumn: "node_id",
					Audit: AuditRemote, AuditField: "node", RemoteAuditField: "network_interface",
				},
			},
		},
		&Resource{
			Name:          NodeGroups,
			NaturalKey:    []string{"name"},
			DefaultFields: []string{"name", "owner", "description"},
			Fields: []*Field{
				{Name: "name", Kind: String},
				{Name: "owner", Kind: String},
				{Name: "description", Kind: String},
				{Name: "notes_url", Kind: String},
			},
			Relationships: []*Relationship{
				{
					Name: "nodes", Target: Nodes, Kind: Collection,
					JoinTable: "node_group_assignments", LocalColumn: "node_group_id", RemoteColumn: "node_id",
					Audit: AuditBoth, AuditField: "node", RemoteAuditField: "node_group",
				},
				tagsOf(NodeGroups, "tag_node_group_assignments", "node_group_id"),
			},
		},
		&Resource{
			Name:          Tags,
			NaturalKey:    []string{"name", "value"},
			DefaultFields: []string{"name", "value"},
			Fields: []*Field{
				{Name: "name", Kind: String},
				{Name: "value", Kind: String},
			},
			Relationships: []*Relationship{
				tagTargets("nodes", Nodes, "tag_node_assignments", "node_id"),
				tagTargets("node_groups", NodeGroups, "tag_node_group_assignments", "node_group_id"),
				tagTargets("physical_devices", PhysicalDevices, "tag_physical_device_assignments", "physical_device_id"),
				tagTargets("data_centers", DataCenters, "tag_data_center_assignments", "data_center_id"),
			},
		},
		&Resource{
			Name:          Nodes,
			NaturalKey:    []string{"unique_id"},
			DefaultFields: []string{"name", "unique_id", "status"},
			Fields: []*Field{
				{Name: "unique_id", Kind: UniqueID},
				{Name: "name", Kind: String},
				{Name: "serial_number", Kind: String},
				{Name: "processor_count", Kind: Int},
				{Name: "uptime", Kind: String, NoAudit: true},
				{Name: "last_registered", Kind: Timestamp, NoAudit: true},
				{Name: "status", Column: "status_id", Kind: Reference, Target: Statuses},
				{Name: "hardware_profile", Column: "hardware_profile_id", Kind: Reference, Target: HardwareProfiles},
				{Name: "operating_system", Column: "operating_system_id", Kind: Reference, Target: OperatingSystems},
				{Name: "data_center", Column: "data_center_id", Kind: Reference, Target: DataCenters},
				{Name: "ec2_instance", Column: "ec2_instance_id", Kind: Reference, Target: EC2Instances},
				{Name: "physical_device", Column: "physical_device_id", Kind: Reference, Target: PhysicalDevices},
			},
			Relationships: []*Relationship{
				tagsOf(Nodes, "tag_node_assignments", "node_id"),
				{
					Name: "node_groups", Target: NodeGroups, Kind: Collection,
					JoinTable: "node_group_assignments", LocalColumn: "node_id", RemoteColumn: "node_group_id",
					Audit: AuditBoth, AuditField: "node_group", RemoteAuditField: "node",
				},
				{
					Name: RelNetworkInterfaces, Target: NetworkInterfaces, Kind: Collection,
					JoinTable: "network_interface_assignments", LocalColumn: "node_id", RemoteColumn: "network_interface_id",
					Audit: AuditLocal, AuditField: "network_interface", RemoteAuditField: "node",
				},
				{
					Name: RelGuestVMs, Target: Nodes, Kind: Collection,
					JoinTable: "hypervisor_vm_assignments", LocalColumn: "hypervisor_id", RemoteColumn: "guest_vm_id",
					Audit: AuditBoth, AuditField: "guest_vm", RemoteAuditField: "hypervisor",
				},
				{
					Name: "hypervisor", Target: Nodes, Kind: Collection,
					JoinTable: "hypervisor_vm_assignments", LocalColumn: "guest_vm_id", RemoteColumn: "hypervisor_id",
					Audit: AuditBoth, AuditField: "hypervisor", RemoteAuditField: "guest_vm",
				},
			},
		},
	)
}

// tagsOf declares the tag collection of a taggable resource
func tagsOf(owner, joinTable, ownerColumn string) *Relationship {
	return &Relationship{
		Name: "tags", Target: Tags, Kind: Collection,
		JoinTable: joinTable, LocalColumn: ownerColumn, RemoteColumn: "tag_id",
		Audit: AuditLocal, AuditField: "tag", RemoteAuditField: ownerAuditField(owner),
		ExclusiveField: "name",
	}
}

// tagTargets declares the inverse of tagsOf, seen from the tag
func tagTargets(name, target, joinTable, targetColumn string) *Relationship {
	return &Relationship{
		Name: name, Target: target, Kind: Collection,
		JoinTable: joinTable, LocalColumn: "tag_id", RemoteColumn: targetColumn,
		Audit: AuditRemote, AuditField: ownerAuditField(target), RemoteAuditField: "tag",
		ExclusiveField: "name", ExclusiveOnLocal: true,
	}
}

func ownerAuditField(resource string) string {
	switch resource {
	case Nodes:
		return "node"
	case NodeGroups:
		return "node_group"
	case PhysicalDevices:
		return "physical_device"
	case DataCenters:
		return "data_center"
	default:
		return resource
	}
}
