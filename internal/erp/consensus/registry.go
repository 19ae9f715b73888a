package consensus

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Route 某领域的主审与交叉验证智能体
type Route struct {
	Primary string   `yaml:"primary"`
	Peers   []string `yaml:"peers"`
	Policy  string   `yaml:"policy"`
}

// AgentSpec 注册表中的智能体定义
type AgentSpec struct {
	ID      string        `yaml:"id"`
	Type    string        `yaml:"type"` // builtin | remote
	Role    string        `yaml:"role"`
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type registryFile struct {
	Agents  []AgentSpec      `yaml:"agents"`
	Domains map[string]Route `yaml:"domains"`
}

// Registry 智能体注册表
type Registry struct {
	agents map[string]Agent
	routes map[string]Route
}

// NewRegistry 使用内置智能体和默认路由
func NewRegistry() *Registry {
	r := &Registry{
		agents: make(map[string]Agent),
		routes: make(map[string]Route),
	}
	for _, a := range BuiltinAgents() {
		r.agents[a.ID()] = a
	}
	r.routes[DomainPlanning] = Route{Primary: "planning", Peers: []string{"inventory", "production", "quality", "manager"}}
	r.routes[DomainProduction] = Route{Primary: "production", Peers: []string{"inventory", "quality"}}
	r.routes[DomainInventory] = Route{Primary: "inventory", Peers: []string{"planning", "manager"}}
	r.routes[DomainQuality] = Route{Primary: "quality", Peers: []string{"production", "manager"}}
	return r
}

// LoadRegistry 从YAML文件加载注册表
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取智能体注册表失败: %w", err)
	}
	return ParseRegistry(data)
}

// ParseRegistry 解析注册表，未声明的内置智能体仍可被路由引用
func ParseRegistry(data []byte) (*Registry, error) {
	var f registryFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("解析智能体注册表失败: %w", err)
	}

	r := NewRegistry()
	for _, spec := range f.Agents {
		switch spec.Type {
		case "", "builtin":
			if _, ok := r.agents[spec.ID]; !ok {
				return nil, fmt.Errorf("unknown builtin agent %q", spec.ID)
			}
		case "remote":
			if spec.URL == "" {
				return nil, fmt.Errorf("remote agent %q missing url", spec.ID)
			}
			r.agents[spec.ID] = NewRemoteAgent(spec.ID, spec.Role, spec.URL, spec.Timeout)
		default:
			return nil, fmt.Errorf("agent %q: unsupported type %q", spec.ID, spec.Type)
		}
	}

	if len(f.Domains) > 0 {
		r.routes = make(map[string]Route, len(f.Domains))
	}
	for domain, route := range f.Domains {
		if err := r.SetRoute(domain, route); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 注册或替换智能体
func (r *Registry) Register(a Agent) {
	r.agents[a.ID()] = a
}

// SetRoute 设置领域路由，引用的智能体必须已注册
func (r *Registry) SetRoute(domain string, route Route) error {
	if _, ok := r.agents[route.Primary]; !ok {
		return fmt.Errorf("domain %s: unknown primary agent %q", domain, route.Primary)
	}
	for _, p := range route.Peers {
		if _, ok := r.agents[p]; !ok {
			return fmt.Errorf("domain %s: unknown peer agent %q", domain, p)
		}
	}
	r.routes[domain] = route
	return nil
}

// Resolve 返回领域的路由与智能体
func (r *Registry) Resolve(domain string) (Route, Agent, []Agent, error) {
	route, ok := r.routes[domain]
	if !ok {
		return Route{}, nil, nil, fmt.Errorf("no route for domain %q", domain)
	}
	primary := r.agents[route.Primary]
	peers := make([]Agent, 0, len(route.Peers))
	for _, id := range route.Peers {
		peers = append(peers, r.agents[id])
	}
	return route, primary, peers, nil
}
