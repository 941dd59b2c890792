package automation

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"fleet-policy/pkg/model"
)

// ResolvePolicy determines which policy governs an agent, walking precedence:
// agent override, then site, then client, then the installation default, with
// site/client/default attachments selected by the agent's monitoring type.
//
// The first attachment found wins outright. If that policy is inactive the
// agent resolves to no policy at all; an inactive attachment is an explicit
// opt-out, not a fall-through to the next level.
func ResolvePolicy(db *gorm.DB, agent *model.Agent) (*model.Policy, error) {
	id, err := resolvePolicyID(db, agent)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}
	var policy model.Policy
	if err := db.First(&policy, *id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !policy.Active {
		return nil, nil
	}
	return &policy, nil
}

func resolvePolicyID(db *gorm.DB, agent *model.Agent) (*uint, error) {
	if agent.PolicyID != nil {
		return agent.PolicyID, nil
	}

	var site model.Site
	if err := db.First(&site, agent.SiteID).Error; err != nil {
		return nil, fmt.Errorf("load site %d: %w", agent.SiteID, err)
	}
	if id := policyForRole(site.ServerPolicyID, site.WorkstationPolicyID, agent.MonitoringType); id != nil {
		return id, nil
	}

	var client model.Client
	if err := db.First(&client, site.ClientID).Error; err != nil {
		return nil, fmt.Errorf("load client %d: %w", site.ClientID, err)
	}
	if id := policyForRole(client.ServerPolicyID, client.WorkstationPolicyID, agent.MonitoringType); id != nil {
		return id, nil
	}

	var core model.CoreSettings
	if err := db.First(&core).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return policyForRole(core.ServerPolicyID, core.WorkstationPolicyID, agent.MonitoringType), nil
}

func policyForRole(server, workstation *uint, monType string) *uint {
	if monType == model.MonTypeServer {
		return server
	}
	return workstation
}
