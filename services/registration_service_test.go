package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
)

// TestRegister_Twice tests that re-registration only touches unaudited fields
func (suite *ServicesTestSuite) TestRegister_Twice() {
	form := &models.RegistrationForm{UniqueID: "00:11:22:33:44:55", Name: "web01", Uptime: "1 day"}

	first, err := suite.services.Registration.Register(suite.ctx, form)
	require.NoError(suite.T(), err)

	entries := suite.audits(registry.Nodes, first.ID)
	require.Len(suite.T(), entries, 1)
	assert.Equal(suite.T(), "unique_id", entries[0].Field)
	assert.WithinDuration(suite.T(), suite.now, first.Get("last_registered").(time.Time), time.Second)

	suite.now = suite.now.Add(24 * time.Hour)
	form.Uptime = "2 days"
	second, err := suite.services.Registration.Register(suite.ctx, form)
	require.NoError(suite.T(), err)

	assert.Equal(suite.T(), first.ID, second.ID)
	assert.Equal(suite.T(), "2 days", second.Get("uptime"))
	assert.WithinDuration(suite.T(), suite.now, second.Get("last_registered").(time.Time), time.Second)
	assert.Len(suite.T(), suite.audits(registry.Nodes, first.ID), 1)
}

// TestRegister_AdvancesWithinTheSameSecond tests that last_registered keeps sub-second changes
func (suite *ServicesTestSuite) TestRegister_AdvancesWithinTheSameSecond() {
	form := &models.RegistrationForm{UniqueID: "00:11:22:33:44:55", Name: "web01", Uptime: "1 day"}

	first, err := suite.services.Registration.Register(suite.ctx, form)
	require.NoError(suite.T(), err)
	firstSeen := first.Get("last_registered").(time.Time)

	suite.now = suite.now.Add(700 * time.Millisecond)
	form.Uptime = "1 day, 1 second"
	second, err := suite.services.Registration.Register(suite.ctx, form)
	require.NoError(suite.T(), err)

	secondSeen := second.Get("last_registered").(time.Time)
	assert.True(suite.T(), secondSeen.After(firstSeen), "last_registered did not advance: %v -> %v", firstSeen, secondSeen)
	assert.True(suite.T(), secondSeen.Equal(suite.now), "expected %v, got %v", suite.now, secondSeen)
	assert.Equal(suite.T(), "1 day, 1 second", second.Get("uptime"))
	assert.Len(suite.T(), suite.audits(registry.Nodes, first.ID), 1)
}

// TestRegister_ResolvesDependencies tests that referenced records are created on first sight
func (suite *ServicesTestSuite) TestRegister_ResolvesDependencies() {
	device := suite.create(suite.ctx, registry.PhysicalDevices, map[string]any{"serial_number": "SN1"})
	count := int64(16)

	node, err := suite.services.Registration.Register(suite.ctx, &models.RegistrationForm{
		UniqueID:        "aa:bb",
		Name:            "db01",
		ProcessorCount:  &count,
		Status:          "setup",
		DataCenter:      "ams1",
		PhysicalDevice:  "SN1",
		HardwareProfile: &models.HardwareProfileForm{Manufacturer: "Dell", Model: "R640"},
		OperatingSystem: &models.OperatingSystemForm{Name: "Ubuntu 22.04", Variant: "ubuntu", VersionNumber: "22.04"},
		EC2:             map[string]string{"instance_id": "i-123", "instance_type": "m5.large"},
	})
	require.NoError(suite.T(), err)

	ctx := context.Background()
	hp, err := suite.repos.Records.FindByKey(ctx, suite.db, suite.resource(registry.HardwareProfiles), map[string]any{"name": "Dell R640"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), "Dell", hp.Get("manufacturer"))

	ec2, err := suite.repos.Records.FindByKey(ctx, suite.db, suite.resource(registry.EC2Instances), map[string]any{"instance_id": "i-123"})
	require.NoError(suite.T(), err)

	refs := map[string]int64{"hardware_profile": hp.ID, "ec2_instance": ec2.ID, "physical_device": device.ID}
	for field, want := range refs {
		got, ok := node.RefID(field)
		assert.True(suite.T(), ok, field)
		assert.Equal(suite.T(), want, got, field)
	}
	_, ok := node.RefID("operating_system")
	assert.True(suite.T(), ok)
	_, ok = node.RefID("data_center")
	assert.True(suite.T(), ok)
	assert.Equal(suite.T(), int64(16), node.Get("processor_count"))
}

// TestRegister_UnknownPhysicalDeviceIsSkipped tests that registration does not fail on an unknown device
func (suite *ServicesTestSuite) TestRegister_UnknownPhysicalDeviceIsSkipped() {
	node, err := suite.services.Registration.Register(suite.ctx, &models.RegistrationForm{UniqueID: "aa:bb", PhysicalDevice: "SN-missing"})
	require.NoError(suite.T(), err)

	_, ok := node.RefID("physical_device")
	assert.False(suite.T(), ok)
}

// TestRegister_ReconcilesNetworkInterfaces tests that reported interfaces replace the current set
func (suite *ServicesTestSuite) TestRegister_ReconcilesNetworkInterfaces() {
	form := &models.RegistrationForm{
		UniqueID: "aa:bb",
		NetworkInterfaces: []models.NetworkInterfaceForm{
			{UniqueID: "AA:BB:00:00:00:01", Name: "eth0", IPAddress: "10.0.0.1"},
			{UniqueID: "aa:bb:00:00:00:02", Name: "eth1"},
		},
	}
	node, err := suite.services.Registration.Register(suite.ctx, form)
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), suite.linked(registry.Nodes, node.ID, registry.RelNetworkInterfaces), 2)

	form.NetworkInterfaces = form.NetworkInterfaces[:1]
	form.NetworkInterfaces[0].IPAddress = "10.0.0.2"
	_, err = suite.services.Registration.Register(suite.ctx, form)
	require.NoError(suite.T(), err)

	eth0, err := suite.repos.Records.FindByKey(context.Background(), suite.db, suite.resource(registry.NetworkInterfaces), map[string]any{"unique_id": "aa:bb:00:00:00:01"})
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []int64{eth0.ID}, suite.linked(registry.Nodes, node.ID, registry.RelNetworkInterfaces))
	assert.Equal(suite.T(), "10.0.0.2", eth0.Get("ip_address"))

	audits := suite.auditsOn(registry.Nodes, node.ID, "network_interface")
	require.Len(suite.T(), audits, 3)
	assert.Equal(suite.T(), models.AuditDeassigned, audits[2].OldValue)
	assert.Equal(suite.T(), "aa:bb:00:00:00:02", audits[2].NewValue)
}

// TestRegister_ReconcilesGuestVMs tests hypervisor guest reconciliation
func (suite *ServicesTestSuite) TestRegister_ReconcilesGuestVMs() {
	guest := suite.node("vm:01", "vm01", "inservice")
	other := suite.node("vm:02", "vm02", "inservice")

	form := &models.RegistrationForm{UniqueID: "hv:01", GuestVMs: []string{"VM:01", "vm:02", "vm:unknown"}}
	hv, err := suite.services.Registration.Register(suite.ctx, form)
	require.NoError(suite.T(), err)
	assert.ElementsMatch(suite.T(), []int64{guest.ID, other.ID}, suite.linked(registry.Nodes, hv.ID, registry.RelGuestVMs))

	// A nil guest list leaves the set alone
	_, err = suite.services.Registration.Register(suite.ctx, &models.RegistrationForm{UniqueID: "hv:01"})
	require.NoError(suite.T(), err)
	assert.Len(suite.T(), suite.linked(registry.Nodes, hv.ID, registry.RelGuestVMs), 2)

	form.GuestVMs = []string{"vm:01"}
	_, err = suite.services.Registration.Register(suite.ctx, form)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), []int64{guest.ID}, suite.linked(registry.Nodes, hv.ID, registry.RelGuestVMs))

	removed := suite.auditsOn(registry.Nodes, other.ID, "hypervisor")
	require.Len(suite.T(), removed, 2)
	assert.Equal(suite.T(), models.AuditDeassigned, removed[1].OldValue)
	assert.Equal(suite.T(), "hv:01", removed[1].NewValue)
}

// TestRegister_InvalidForm tests registration payload validation
func (suite *ServicesTestSuite) TestRegister_InvalidForm() {
	_, err := suite.services.Registration.Register(suite.ctx, &models.RegistrationForm{
		UniqueID:        "aa:bb",
		HardwareProfile: &models.HardwareProfileForm{Manufacturer: "Dell"},
	})

	assert.True(suite.T(), apperr.Is(err, apperr.KindBadRequest))
}
