package engine

// RunKind identifies which service or procedure a run automates. It
// selects the inventory grouping algorithm, the credential vocabulary,
// and the reusable-role directory.
type RunKind string

const (
	KindMySQL      RunKind = "mysql"
	KindMongoDB    RunKind = "mongodb"
	KindKubernetes RunKind = "kubernetes"
	KindEnvCheck   RunKind = "env-check"
)

// KnownKinds lists the run kinds with dedicated strategies. Any other
// kind falls back to the default strategy (single "all" group, shared
// role directory, no credential vocabulary).
func KnownKinds() []RunKind {
	return []RunKind{KindMySQL, KindMongoDB, KindKubernetes, KindEnvCheck}
}

// HostGroup is one named group of target hosts in inventory order.
type HostGroup struct {
	// Name is the group name (e.g. "primary", "master", "all").
	Name string

	// Hosts are the group members, in input order.
	Hosts []TargetHost
}

// GroupingFunc maps the ordered host list to inventory groups. The
// aggregate name, when non-empty, names a children group listing every
// returned group that has members.
type GroupingFunc func(hosts []TargetHost) (groups []HostGroup, aggregate string)

// ServiceDefault describes a known service whose run generates
// operator credentials.
type ServiceDefault struct {
	// Name is the service name used as the CredentialSet key.
	Name string

	// ArtifactPath is the conventional on-host path of the generated
	// credentials file. When non-empty it is injected into the final
	// CredentialSet under the "path" key even if parsing found nothing.
	ArtifactPath string
}

// Strategy is the closed per-RunKind record selected once at run start.
// It replaces kind-conditional branching scattered across the pipeline.
type Strategy struct {
	// Kind is the run kind this strategy serves.
	Kind RunKind

	// Group builds the inventory grouping for this kind.
	Group GroupingFunc

	// Services are the known services for credential extraction.
	Services []ServiceDefault

	// RolesDir is the reusable-role directory, relative to the
	// playbook root.
	RolesDir string
}

// StrategyFor returns the strategy for a run kind. Unknown kinds get
// the default strategy.
func StrategyFor(kind RunKind) Strategy {
	switch kind {
	case KindMySQL:
		return Strategy{
			Kind:     kind,
			Group:    groupByRole("mysql", "primary", map[string]string{"primary": "primary", "secondary": "secondary"}),
			Services: []ServiceDefault{{Name: "mysql", ArtifactPath: "/root/.my.cnf"}},
			RolesDir: "roles/mysql",
		}
	case KindMongoDB:
		return Strategy{
			Kind:     kind,
			Group:    groupByRole("mongo", "primary", map[string]string{"primary": "primary", "secondary": "secondary", "arbiter": "arbiter"}),
			Services: []ServiceDefault{{Name: "mongodb", ArtifactPath: "/root/.mongoshrc.js"}},
			RolesDir: "roles/mongodb",
		}
	case KindKubernetes:
		return Strategy{
			Kind:     kind,
			Group:    groupByRole("kubernetes", "worker", map[string]string{"master": "master", "worker": "worker"}),
			Services: []ServiceDefault{{Name: "kubernetes", ArtifactPath: "/etc/kubernetes/admin.conf"}},
			RolesDir: "roles/kubernetes",
		}
	case KindEnvCheck:
		return Strategy{
			Kind:     kind,
			Group:    groupAllDeduplicated,
			RolesDir: "roles/common",
		}
	default:
		return Strategy{
			Kind:     kind,
			Group:    groupAll,
			RolesDir: "roles/common",
		}
	}
}

// groupByRole builds a grouping function that buckets hosts by role
// tag. Hosts whose role has no mapping (including an unset role) land
// in defaultGroup. Group order follows first appearance of members,
// with defaultGroup first when populated.
func groupByRole(aggregate, defaultGroup string, roleToGroup map[string]string) GroupingFunc {
	// Stable group order: default group first, then the mapped groups
	// in lexicographic order, so the document is deterministic.
	order := []string{defaultGroup}
	seen := map[string]bool{defaultGroup: true}
	for _, g := range sortedValues(roleToGroup) {
		if !seen[g] {
			order = append(order, g)
			seen[g] = true
		}
	}

	return func(hosts []TargetHost) ([]HostGroup, string) {
		buckets := make(map[string][]TargetHost)
		for _, h := range hosts {
			group, ok := roleToGroup[h.Role]
			if !ok {
				group = defaultGroup
			}
			buckets[group] = append(buckets[group], h)
		}
		groups := make([]HostGroup, 0, len(order))
		for _, name := range order {
			if members := buckets[name]; len(members) > 0 {
				groups = append(groups, HostGroup{Name: name, Hosts: members})
			}
		}
		return groups, aggregate
	}
}

// groupAll places every host in a single "all" group, one entry per
// host, no deduplication.
func groupAll(hosts []TargetHost) ([]HostGroup, string) {
	if len(hosts) == 0 {
		return nil, ""
	}
	return []HostGroup{{Name: "all", Hosts: hosts}}, ""
}

// groupAllDeduplicated places every host in a single "all" group,
// deduplicated by (address, port). Multiple logical roles pointing at
// one physical host must appear once, otherwise the engine runs
// package-manager steps twice against the host and hits lock
// contention.
func groupAllDeduplicated(hosts []TargetHost) ([]HostGroup, string) {
	type hostKey struct {
		address string
		port    int
	}
	seen := make(map[hostKey]bool)
	var unique []TargetHost
	for _, h := range hosts {
		k := hostKey{address: h.Address, port: h.SSHPort()}
		if seen[k] {
			continue
		}
		seen[k] = true
		unique = append(unique, h)
	}
	if len(unique) == 0 {
		return nil, ""
	}
	return []HostGroup{{Name: "all", Hosts: unique}}, ""
}

// sortedValues returns the distinct values of m in lexicographic order.
func sortedValues(m map[string]string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range m {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
