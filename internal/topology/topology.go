// Package topology 加载站点拓扑（站点标识、关门规则、地理互斥关系）
package topology

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Site 站点定义
type Site struct {
	ID               string `yaml:"id"`
	Name             string `yaml:"name"`
	Closes           bool   `yaml:"closes"`             // 需要指定关门职责
	NeedsThirdCloser bool   `yaml:"needs_third_closer"` // 需要第三关门人
	HighDemand       bool   `yaml:"high_demand"`        // 高需求站点，计算偏好过度使用惩罚
}

// Exclusion 手术室与站点的地理互斥：同一天在该手术室的人员不安排到这些站点
type Exclusion struct {
	OperatingRoom string   `yaml:"operating_room"`
	Sites         []string `yaml:"sites"`
}

// Topology 站点拓扑
type Topology struct {
	AdministrativeSite string      `yaml:"administrative_site"`
	OperatingRooms     []string    `yaml:"operating_rooms"`
	Sites              []Site      `yaml:"sites"`
	Exclusions         []Exclusion `yaml:"exclusions"`

	sites      map[string]Site
	rooms      map[string]bool
	exclusions map[string]map[string]bool
}

// Load 从文件加载拓扑
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取拓扑文件失败: %w", err)
	}
	return Parse(data)
}

// Parse 解析 YAML 拓扑
func Parse(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("解析拓扑失败: %w", err)
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Topology) index() error {
	t.sites = make(map[string]Site, len(t.Sites))
	t.rooms = make(map[string]bool, len(t.OperatingRooms))
	t.exclusions = make(map[string]map[string]bool)

	for _, s := range t.Sites {
		if s.ID == "" {
			return fmt.Errorf("站点缺少 id")
		}
		if _, dup := t.sites[s.ID]; dup {
			return fmt.Errorf("站点 %s 重复定义", s.ID)
		}
		if s.NeedsThirdCloser && !s.Closes {
			return fmt.Errorf("站点 %s 需要第三关门人但未标记为关门站点", s.ID)
		}
		t.sites[s.ID] = s
	}
	for _, r := range t.OperatingRooms {
		if _, clash := t.sites[r]; clash {
			return fmt.Errorf("手术室 %s 与站点同名", r)
		}
		t.rooms[r] = true
	}
	if t.AdministrativeSite != "" {
		if _, ok := t.sites[t.AdministrativeSite]; !ok {
			return fmt.Errorf("行政站点 %s 未在 sites 中定义", t.AdministrativeSite)
		}
	}
	for _, e := range t.Exclusions {
		if !t.rooms[e.OperatingRoom] {
			return fmt.Errorf("互斥规则引用了未知手术室 %s", e.OperatingRoom)
		}
		set, ok := t.exclusions[e.OperatingRoom]
		if !ok {
			set = make(map[string]bool)
			t.exclusions[e.OperatingRoom] = set
		}
		for _, s := range e.Sites {
			set[s] = true
		}
	}
	return nil
}

// Known 位置是否已定义（站点或手术室）
func (t *Topology) Known(locationID string) bool {
	_, ok := t.sites[locationID]
	return ok || t.rooms[locationID]
}

// IsOperatingRoom 是否为手术室
func (t *Topology) IsOperatingRoom(locationID string) bool {
	return t.rooms[locationID]
}

// ClosesLocation 站点是否需要关门职责
func (t *Topology) ClosesLocation(locationID string) bool {
	return t.sites[locationID].Closes
}

// NeedsThirdCloser 站点是否需要第三关门人
func (t *Topology) NeedsThirdCloser(locationID string) bool {
	return t.sites[locationID].NeedsThirdCloser
}

// IsHighDemand 是否为高需求站点
func (t *Topology) IsHighDemand(locationID string) bool {
	return t.sites[locationID].HighDemand
}

// Excluded 在手术室 room 工作的人员当天是否不能去站点 site
func (t *Topology) Excluded(room, site string) bool {
	return t.exclusions[room][site]
}

// Administrative 行政站点 ID，未配置返回空
func (t *Topology) Administrative() string {
	return t.AdministrativeSite
}

// ClosingSites 所有关门站点
func (t *Topology) ClosingSites() []string {
	var out []string
	for _, s := range t.Sites {
		if s.Closes {
			out = append(out, s.ID)
		}
	}
	return out
}
