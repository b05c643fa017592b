package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/FerdivdKamp/bikeTrainerApp/internal/config"
)

type preferencesData struct {
	PreferredDeviceBySlot map[Slot]string `json:"preferred_device_by_slot"`
}

// Preferences remembers the last device connected in each slot across runs
type Preferences struct {
	filePath string
	logger   *log.Logger

	mu   sync.Mutex
	data preferencesData
}

func DefaultPreferencesPath() string {
	return filepath.Join(config.DefaultDir(), "ui_state.json")
}

func NewPreferences(filePath string, logger *log.Logger) *Preferences {
	if logger == nil {
		panic("Preferences: logger cannot be nil")
	}
	p := &Preferences{
		filePath: filePath,
		logger:   logger,
	}
	p.load()
	return p
}

func (p *Preferences) PreferredDevice(slot Slot) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.data.PreferredDeviceBySlot[slot]
}

func (p *Preferences) SetPreferredDevice(slot Slot, address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data.PreferredDeviceBySlot[slot] == address {
		return
	}
	p.logger.Printf("Preferences: %s -> %q", slot, address)
	p.data.PreferredDeviceBySlot[slot] = address
	p.save()
}

func (p *Preferences) load() {
	p.data = preferencesData{
		PreferredDeviceBySlot: make(map[Slot]string),
	}
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("Preferences: load %s (no existing file)", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("Preferences: load %s failed to parse: %v", p.filePath, err)
		return
	}
	if p.data.PreferredDeviceBySlot == nil {
		p.data.PreferredDeviceBySlot = make(map[Slot]string)
	}
	p.logger.Printf("Preferences: load %s -> %v", p.filePath, p.data.PreferredDeviceBySlot)
}

// Must be called with mu held
func (p *Preferences) save() {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0755); err != nil {
		p.logger.Printf("Preferences: save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("Preferences: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0644); err != nil {
		p.logger.Printf("Preferences: save %s failed: %v", p.filePath, err)
	}
}
