package repository

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/paiban/staffplan/pkg/model"
)

// Seed 内存存储的初始数据文件格式
type Seed struct {
	model.Inputs
	Assignments []model.Assignment `json:"assignments,omitempty"`
}

// LoadSeedFile 读取 JSON 初始数据并创建内存存储
func LoadSeedFile(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取初始数据失败: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("解析初始数据失败: %w", err)
	}
	store := NewMemoryStore(&seed.Inputs)
	if len(seed.Assignments) > 0 {
		store.Seed(withDemandKeys(seed.Assignments))
	}
	return store, nil
}
