package template

import (
	"fmt"
	"sort"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"

	"github.com/trydirect/deployctl/internal/project"
)

// composeDocument is the root of a rendered docker-compose file. Field order
// here is the field order yaml.v3 emits, so it doubles as the ordering
// contract: version, services, networks.
type composeDocument struct {
	Version  string                     `yaml:"version"`
	Services map[string]*composeService `yaml:"services"`
	Networks map[string]composeNetwork  `yaml:"networks,omitempty"`

	// order records the service emission order separately since Go map
	// iteration is unordered and yaml.v3 sorts map[string]T keys
	// alphabetically — neither matches the ascending-deploy_order contract.
	order []string
}

// composeService mirrors one service entry. Field declaration order is the
// emission order mandated for every service block: image, container_name,
// environment, ports, volumes, networks, depends_on, healthcheck, labels,
// restart, resources.
type composeService struct {
	Image         string               `yaml:"image"`
	ContainerName string               `yaml:"container_name,omitempty"`
	Environment   map[string]string    `yaml:"environment,omitempty"`
	Ports         []string             `yaml:"ports,omitempty"`
	Volumes       []string             `yaml:"volumes,omitempty"`
	Networks      []string             `yaml:"networks,omitempty"`
	DependsOn     []string             `yaml:"depends_on,omitempty"`
	Healthcheck   *composeHealthcheck  `yaml:"healthcheck,omitempty"`
	Labels        map[string]string    `yaml:"labels,omitempty"`
	Restart       string               `yaml:"restart,omitempty"`
	Deploy        *composeDeploy       `yaml:"deploy,omitempty"`
}

type composeHealthcheck struct {
	Test     []string `yaml:"test,omitempty"`
	Interval string   `yaml:"interval,omitempty"`
	Timeout  string   `yaml:"timeout,omitempty"`
	Retries  int      `yaml:"retries,omitempty"`
}

type composeDeploy struct {
	Resources *composeResources `yaml:"resources,omitempty"`
}

type composeResources struct {
	Limits       *composeResourceSpec `yaml:"limits,omitempty"`
	Reservations *composeResourceSpec `yaml:"reservations,omitempty"`
}

type composeResourceSpec struct {
	CPUs   string `yaml:"cpus,omitempty"`
	Memory string `yaml:"memory,omitempty"`
}

type composeNetwork struct {
	External bool `yaml:"external"`
}

// RenderCompose renders a docker-compose document for the given project and
// its enabled apps, per spec.md §4.2's rendering rules. Services are emitted
// in ascending deploy_order, ties broken by app id; the project's default
// network is declared external and used by any service listing no networks
// of its own.
func RenderCompose(p *project.Project, apps []*project.ProjectApp) (string, error) {
	enabled := make([]*project.ProjectApp, 0, len(apps))
	for _, a := range apps {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		if enabled[i].DeployOrder != enabled[j].DeployOrder {
			return enabled[i].DeployOrder < enabled[j].DeployOrder
		}
		return enabled[i].ID < enabled[j].ID
	})

	defaultNetwork := p.DefaultNetworkName()

	doc := composeDocument{
		Version:  "3.8",
		Services: make(map[string]*composeService, len(enabled)),
		Networks: map[string]composeNetwork{defaultNetwork: {External: true}},
	}

	for _, a := range enabled {
		svc, err := buildComposeService(a, defaultNetwork)
		if err != nil {
			return "", fmt.Errorf("app %s: %w", a.Code, err)
		}
		doc.Services[a.Code] = svc
		doc.order = append(doc.order, a.Code)
	}

	rendered, err := marshalComposeDocument(&doc)
	if err != nil {
		return "", err
	}
	if err := validateCompose(rendered); err != nil {
		return "", err
	}
	return rendered, nil
}

// validateCompose runs the rendered document through the compose-spec
// reference loader so a malformed render (bad port syntax, an unresolvable
// depends_on, ...) fails at render time rather than at `docker compose` time.
func validateCompose(rendered string) error {
	_, err := loader.Load(types.ConfigDetails{
		WorkingDir:  ".",
		ConfigFiles: []types.ConfigFile{{Filename: "compose.yaml", Content: []byte(rendered)}},
	})
	if err != nil {
		return fmt.Errorf("validate compose document: %w", err)
	}
	return nil
}

func buildComposeService(a *project.ProjectApp, defaultNetwork string) (*composeService, error) {
	envVars, err := ParseEnv(a.Environment)
	if err != nil {
		return nil, err
	}

	restart := a.RestartPolicy
	if restart == "" {
		restart = "unless-stopped"
	}

	networks := a.Networks
	if len(networks) == 0 {
		networks = []string{defaultNetwork}
	}

	svc := &composeService{
		Image:         a.Image,
		ContainerName: a.Code,
		Environment:   EnvMap(envVars),
		Networks:      networks,
		DependsOn:     a.DependsOn,
		Labels:        a.Labels,
		Restart:       restart,
	}

	for _, pm := range a.Ports {
		mapping, err := FormatPortMapping(pm.Host, pm.Container, pm.Protocol)
		if err != nil {
			return nil, err
		}
		svc.Ports = append(svc.Ports, mapping)
	}
	for _, vm := range a.Volumes {
		svc.Volumes = append(svc.Volumes, FormatVolumeMapping(vm.Source, vm.Target, vm.ReadOnly))
	}

	if a.Healthcheck != nil {
		svc.Healthcheck = &composeHealthcheck{
			Test:     a.Healthcheck.Test,
			Interval: a.Healthcheck.Interval,
			Timeout:  a.Healthcheck.Timeout,
			Retries:  a.Healthcheck.Retries,
		}
	}

	if r := a.Resources; r != nil && (r.CPULimit != "" || r.MemoryLimit != "" || r.CPUReserved != "" || r.MemReserved != "") {
		deploy := &composeDeploy{Resources: &composeResources{}}
		if r.CPULimit != "" || r.MemoryLimit != "" {
			deploy.Resources.Limits = &composeResourceSpec{CPUs: r.CPULimit, Memory: r.MemoryLimit}
		}
		if r.CPUReserved != "" || r.MemReserved != "" {
			deploy.Resources.Reservations = &composeResourceSpec{CPUs: r.CPUReserved, Memory: r.MemReserved}
		}
		svc.Deploy = deploy
	}

	return svc, nil
}

// marshalComposeDocument hand-renders the document rather than calling
// yaml.Marshal on doc.Services directly, since yaml.v3 emits map[string]T
// keys in sorted-by-content order and cannot be told to follow doc.order.
// A yaml.Node tree preserves arbitrary key order instead.
func marshalComposeDocument(doc *composeDocument) (string, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}

	versionKey, versionVal := &yaml.Node{}, &yaml.Node{}
	if err := versionKey.Encode("version"); err != nil {
		return "", err
	}
	if err := versionVal.Encode(doc.Version); err != nil {
		return "", err
	}
	root.Content = append(root.Content, versionKey, versionVal)

	servicesKey := &yaml.Node{}
	if err := servicesKey.Encode("services"); err != nil {
		return "", err
	}
	servicesVal := &yaml.Node{Kind: yaml.MappingNode}
	for _, code := range doc.order {
		k := &yaml.Node{}
		if err := k.Encode(code); err != nil {
			return "", err
		}
		v := &yaml.Node{}
		if err := v.Encode(doc.Services[code]); err != nil {
			return "", err
		}
		servicesVal.Content = append(servicesVal.Content, k, v)
	}
	root.Content = append(root.Content, servicesKey, servicesVal)

	if len(doc.Networks) > 0 {
		networksKey := &yaml.Node{}
		if err := networksKey.Encode("networks"); err != nil {
			return "", err
		}
		networksVal := &yaml.Node{Kind: yaml.MappingNode}
		names := make([]string, 0, len(doc.Networks))
		for name := range doc.Networks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			k := &yaml.Node{}
			if err := k.Encode(name); err != nil {
				return "", err
			}
			v := &yaml.Node{}
			if err := v.Encode(doc.Networks[name]); err != nil {
				return "", err
			}
			networksVal.Content = append(networksVal.Content, k, v)
		}
		root.Content = append(root.Content, networksKey, networksVal)
	}

	out, err := yaml.Marshal(root)
	if err != nil {
		return "", fmt.Errorf("marshal compose document: %w", err)
	}
	return string(out), nil
}
