package automation

import (
	"gorm.io/gorm"

	"fleet-policy/pkg/model"
)

// Related is the transitive set of entities touched when a policy's content
// changes. Sites already covered by a client-level attachment are absorbed
// into that client's entry rather than listed twice, and every agent appears
// once no matter how many attachment paths reach it.
type Related struct {
	ServerClients      []model.Client `json:"server_clients"`
	WorkstationClients []model.Client `json:"workstation_clients"`
	ServerSites        []model.Site   `json:"server_sites"`
	WorkstationSites   []model.Site   `json:"workstation_sites"`
	Agents             []model.Agent  `json:"agents"`
}

// RelatedToPolicy computes the Related rollup for one policy.
func RelatedToPolicy(db *gorm.DB, policyID uint) (Related, error) {
	rel := Related{
		ServerClients:      []model.Client{},
		WorkstationClients: []model.Client{},
		ServerSites:        []model.Site{},
		WorkstationSites:   []model.Site{},
		Agents:             []model.Agent{},
	}

	if err := db.Where("server_policy_id = ?", policyID).Find(&rel.ServerClients).Error; err != nil {
		return rel, err
	}
	if err := db.Where("workstation_policy_id = ?", policyID).Find(&rel.WorkstationClients).Error; err != nil {
		return rel, err
	}

	var err error
	rel.ServerSites, err = sitesForRole(db, policyID, rel.ServerClients, "server_policy_id")
	if err != nil {
		return rel, err
	}
	rel.WorkstationSites, err = sitesForRole(db, policyID, rel.WorkstationClients, "workstation_policy_id")
	if err != nil {
		return rel, err
	}

	seen := map[uint]struct{}{}
	add := func(agents []model.Agent) {
		for _, a := range agents {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			rel.Agents = append(rel.Agents, a)
		}
	}

	for _, role := range []struct {
		sites   []model.Site
		monType string
	}{
		{rel.ServerSites, model.MonTypeServer},
		{rel.WorkstationSites, model.MonTypeWorkstation},
	} {
		if len(role.sites) == 0 {
			continue
		}
		var agents []model.Agent
		if err := db.Where("site_id IN ? AND monitoring_type = ?", siteIDs(role.sites), role.monType).
			Find(&agents).Error; err != nil {
			return rel, err
		}
		add(agents)
	}

	var direct []model.Agent
	if err := db.Where("policy_id = ?", policyID).Find(&direct).Error; err != nil {
		return rel, err
	}
	add(direct)

	return rel, nil
}

// RelatedAgents returns just the deduplicated agent set from the rollup. This
// is the dispatcher's reverse lookup: a superset of the agents currently
// resolving to the policy, each of which re-resolves during its own sync.
func RelatedAgents(db *gorm.DB, policyID uint) ([]model.Agent, error) {
	rel, err := RelatedToPolicy(db, policyID)
	if err != nil {
		return nil, err
	}
	return rel.Agents, nil
}

// sitesForRole collects sites attached directly under the role column plus
// every site of the role's attached clients, deduplicated.
func sitesForRole(db *gorm.DB, policyID uint, clients []model.Client, column string) ([]model.Site, error) {
	sites := []model.Site{}
	seen := map[uint]struct{}{}

	var direct []model.Site
	if err := db.Where(column+" = ?", policyID).Find(&direct).Error; err != nil {
		return nil, err
	}
	for _, s := range direct {
		seen[s.ID] = struct{}{}
		sites = append(sites, s)
	}

	if len(clients) > 0 {
		ids := make([]uint, 0, len(clients))
		for _, c := range clients {
			ids = append(ids, c.ID)
		}
		var under []model.Site
		if err := db.Where("client_id IN ?", ids).Find(&under).Error; err != nil {
			return nil, err
		}
		for _, s := range under {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			sites = append(sites, s)
		}
	}
	return sites, nil
}

func siteIDs(sites []model.Site) []uint {
	ids := make([]uint, 0, len(sites))
	for _, s := range sites {
		ids = append(ids, s.ID)
	}
	return ids
}
