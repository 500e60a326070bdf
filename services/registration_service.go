package services

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/blogem/cmdb/apperr"
	"github.com/blogem/cmdb/models"
	"github.com/blogem/cmdb/registry"
	"github.com/blogem/cmdb/tracing"
)

// RegistrationService defines node self-registration
type RegistrationService interface {
	Register(ctx context.Context, form *models.RegistrationForm) (*models.Record, error)
}

// registrar implements RegistrationService
type registrar struct {
	m *mutator
	a *assigner
}

func newRegistrar(m *mutator, a *assigner) *registrar {
	return &registrar{m: m, a: a}
}

// Register upserts the node keyed by its unique id. Dependencies are resolved or created first,
// in order: hardware profile, operating system, data center, ec2 instance. The node is then
// written with last_registered set to now, after which its network interfaces and, for
// hypervisors, its guest VMs are reconciled against what was reported.
func (r *registrar) Register(ctx context.Context, form *models.RegistrationForm) (*models.Record, error) {
	ctx, span := tracing.Tracer().Start(ctx, "services.Register")
	span.SetAttributes(attribute.String("unique_id", form.UniqueID))
	defer span.End()

	if errors := form.Validate(); len(errors) > 0 {
		return nil, apperr.BadRequest("%s", strings.Join(errors, ", "))
	}

	nodes, err := r.m.reg.Lookup(registry.Nodes)
	if err != nil {
		return nil, err
	}

	var node *models.Record
	err = r.m.begin(ctx, func(w *writer) error {
		payload := map[string]any{
			"unique_id":       form.UniqueID,
			"last_registered": w.now,
		}
		setString(payload, "name", form.Name)
		setString(payload, "serial_number", form.SerialNumber)
		setString(payload, "uptime", form.Uptime)
		setString(payload, "status", form.Status)
		if form.ProcessorCount != nil {
			payload["processor_count"] = *form.ProcessorCount
		}

		if hp := form.HardwareProfile; hp != nil {
			rec, err := r.dependency(ctx, w, registry.HardwareProfiles, map[string]any{
				"name":         hp.Name(),
				"manufacturer": hp.Manufacturer,
				"model":        hp.Model,
			})
			if err != nil {
				return err
			}
			payload["hardware_profile"] = rec.ID
		}

		if osForm := form.OperatingSystem; osForm != nil {
			values := map[string]any{"name": osForm.Name}
			setString(values, "variant", osForm.Variant)
			setString(values, "version_number", osForm.VersionNumber)
			setString(values, "architecture", osForm.Architecture)
			setString(values, "description", osForm.Description)
			rec, err := r.dependency(ctx, w, registry.OperatingSystems, values)
			if err != nil {
				return err
			}
			payload["operating_system"] = rec.ID
		}

		if form.DataCenter != "" {
			rec, err := r.dependency(ctx, w, registry.DataCenters, map[string]any{"name": form.DataCenter})
			if err != nil {
				return err
			}
			payload["data_center"] = rec.ID
		}

		if len(form.EC2) > 0 {
			values := make(map[string]any, len(form.EC2))
			for k, v := range form.EC2 {
				setString(values, k, v)
			}
			rec, err := r.dependency(ctx, w, registry.EC2Instances, values)
			if err != nil {
				return err
			}
			payload["ec2_instance"] = rec.ID
		}

		if form.PhysicalDevice != "" {
			devices, err := r.m.reg.Lookup(registry.PhysicalDevices)
			if err != nil {
				return err
			}
			id, err := r.m.resolver.idByLabel(ctx, w.tx, devices, form.PhysicalDevice)
			switch {
			case err == nil:
				payload["physical_device"] = id
			case apperr.Is(err, apperr.KindNotFound):
				r.m.logger.Warn("registered node reports an unknown physical device",
					zap.String("unique_id", form.UniqueID), zap.String("serial_number", form.PhysicalDevice))
			default:
				return err
			}
		}

		values, err := r.m.normalize(ctx, w, nodes, payload)
		if err != nil {
			return err
		}
		node, err = r.m.upsert(ctx, w, nodes, values)
		if err != nil {
			return err
		}

		if err := r.reconcileInterfaces(ctx, w, nodes, node, form.NetworkInterfaces); err != nil {
			return err
		}
		if form.GuestVMs != nil {
			if err := r.reconcileGuests(ctx, w, nodes, node, form.GuestVMs); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.m.logger.Info("node registered", zap.String("unique_id", node.Get("unique_id").(string)), zap.Int64("id", node.ID))
	return node, nil
}

// dependency upserts a record the node refers to
func (r *registrar) dependency(ctx context.Context, w *writer, resource string, payload map[string]any) (*models.Record, error) {
	res, err := r.m.reg.Lookup(resource)
	if err != nil {
		return nil, err
	}
	values, err := r.m.normalize(ctx, w, res, payload)
	if err != nil {
		return nil, err
	}
	return r.m.upsert(ctx, w, res, values)
}

// reconcileInterfaces assigns every reported interface and deassigns the ones no longer reported
func (r *registrar) reconcileInterfaces(ctx context.Context, w *writer, nodes *registry.Resource, node *models.Record, reported []models.NetworkInterfaceForm) error {
	rel, _ := nodes.Relationship(registry.RelNetworkInterfaces)
	target, err := r.m.reg.Lookup(rel.Target)
	if err != nil {
		return err
	}

	current, err := r.a.assignments.RemoteIDs(ctx, w.tx, rel, node.ID)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool, len(reported))
	for _, nic := range reported {
		values := map[string]any{"unique_id": nic.UniqueID}
		setString(values, "name", nic.Name)
		setString(values, "ip_address", nic.IPAddress)
		setString(values, "bond_master", nic.BondMaster)
		setString(values, "port_description", nic.PortDescription)
		setString(values, "port_number", nic.PortNumber)
		setString(values, "port_switch", nic.PortSwitch)
		setString(values, "port_vlan", nic.PortVLAN)
		setString(values, "seen_mac_address", nic.SeenMACAddress)

		rec, err := r.dependency(ctx, w, registry.NetworkInterfaces, values)
		if err != nil {
			return err
		}
		seen[rec.ID] = true
		if err := r.a.link(ctx, w, nodes, rel, target, node, rec); err != nil {
			return err
		}
	}

	return r.removeStale(ctx, w, nodes, rel, target, node, current, seen)
}

// reconcileGuests links the reported guest VMs to the hypervisor. Guests that have not
// registered yet are skipped.
func (r *registrar) reconcileGuests(ctx context.Context, w *writer, nodes *registry.Resource, node *models.Record, reported []string) error {
	rel, _ := nodes.Relationship(registry.RelGuestVMs)

	current, err := r.a.assignments.RemoteIDs(ctx, w.tx, rel, node.ID)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool, len(reported))
	for _, uid := range reported {
		guest, err := r.m.records.FindByKey(ctx, w.tx, nodes, map[string]any{"unique_id": strings.ToLower(uid)})
		if apperr.Is(err, apperr.KindNotFound) {
			r.m.logger.Warn("hypervisor reports an unregistered guest",
				zap.Int64("hypervisor_id", node.ID), zap.String("guest_unique_id", uid))
			continue
		}
		if err != nil {
			return err
		}
		seen[guest.ID] = true
		if err := r.a.link(ctx, w, nodes, rel, nodes, node, guest); err != nil {
			return err
		}
	}

	return r.removeStale(ctx, w, nodes, rel, nodes, node, current, seen)
}

func (r *registrar) removeStale(ctx context.Context, w *writer, res *registry.Resource, rel *registry.Relationship, target *registry.Resource, owner *models.Record, current []int64, seen map[int64]bool) error {
	for _, id := range current {
		if seen[id] {
			continue
		}
		other, err := r.m.records.Get(ctx, w.tx, target, id)
		if err != nil {
			return err
		}
		if err := r.a.unlink(ctx, w, res, rel, target, owner, other); err != nil {
			return err
		}
	}
	return nil
}

func setString(values map[string]any, field, v string) {
	if v != "" {
		values[field] = v
	}
}
