package stage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AssetProfile describes an asset the correlation stage knows about.
type AssetProfile struct {
	Type        string `yaml:"type"`
	Criticality string `yaml:"criticality"`
	Department  string `yaml:"department"`
}

// UserProfile describes a user the correlation stage knows about.
type UserProfile struct {
	Role       string `yaml:"role"`
	RiskLevel  string `yaml:"risk_level"`
	Privileged bool   `yaml:"privileged"`
}

// Indicators is the threat-intelligence table backing the built-in
// heuristic analyzer. Deployments override it with a YAML file fed from
// their own feeds.
type Indicators struct {
	MaliciousIPs        []string                `yaml:"malicious_ips"`
	SuspiciousProcesses []string                `yaml:"suspicious_processes"`
	MalwareSignatures   []string                `yaml:"malware_signatures"`
	SuspiciousPorts     []int                   `yaml:"suspicious_ports"`
	RiskyExtensions     []string                `yaml:"risky_extensions"`
	AttackPatterns      map[string][]string     `yaml:"attack_patterns"`
	Assets              map[string]AssetProfile `yaml:"assets"`
	Users               map[string]UserProfile  `yaml:"users"`
}

// DefaultIndicators returns the built-in table.
func DefaultIndicators() *Indicators {
	return &Indicators{
		MaliciousIPs: []string{
			"185.220.100.240", "198.51.100.1", "203.0.113.66",
		},
		SuspiciousProcesses: []string{
			"powershell.exe", "cmd.exe", "wscript.exe", "cscript.exe",
			"regsvr32.exe", "rundll32.exe", "certutil.exe",
		},
		MalwareSignatures: []string{
			"mimikatz", "cobalt strike", "metasploit", "empire",
			"bloodhound", "sharphound", "rubeus",
		},
		SuspiciousPorts: []int{4444, 8080, 1337, 31337, 6666},
		RiskyExtensions: []string{".exe", ".scr", ".bat", ".ps1", ".vbs"},
		AttackPatterns: map[string][]string{
			"lateral_movement":     {"psexec", "wmi", "rdp", "ssh"},
			"privilege_escalation": {"uac bypass", "token impersonation", "sudo"},
			"persistence":          {"scheduled task", "registry run key", "service install"},
			"exfiltration":         {"ftp", "http post", "dns tunneling"},
		},
		Assets: map[string]AssetProfile{
			"192.168.1.10":  {Type: "domain_controller", Criticality: "critical", Department: "IT"},
			"192.168.1.20":  {Type: "file_server", Criticality: "high", Department: "Finance"},
			"192.168.1.200": {Type: "database_server", Criticality: "critical", Department: "Finance"},
		},
		Users: map[string]UserProfile{
			"admin":           {Role: "administrator", RiskLevel: "high", Privileged: true},
			"service_account": {Role: "service", RiskLevel: "low", Privileged: true},
			"guest":           {Role: "guest", RiskLevel: "high", Privileged: false},
		},
	}
}

// LoadIndicators reads an indicator table from a YAML file. Empty sections
// fall back to the built-in defaults so a partial override file works.
func LoadIndicators(path string) (*Indicators, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read indicators file: %w", err)
	}
	ind := &Indicators{}
	if err := yaml.Unmarshal(data, ind); err != nil {
		return nil, fmt.Errorf("failed to parse indicators file: %w", err)
	}

	def := DefaultIndicators()
	if len(ind.MaliciousIPs) == 0 {
		ind.MaliciousIPs = def.MaliciousIPs
	}
	if len(ind.SuspiciousProcesses) == 0 {
		ind.SuspiciousProcesses = def.SuspiciousProcesses
	}
	if len(ind.MalwareSignatures) == 0 {
		ind.MalwareSignatures = def.MalwareSignatures
	}
	if len(ind.SuspiciousPorts) == 0 {
		ind.SuspiciousPorts = def.SuspiciousPorts
	}
	if len(ind.RiskyExtensions) == 0 {
		ind.RiskyExtensions = def.RiskyExtensions
	}
	if len(ind.AttackPatterns) == 0 {
		ind.AttackPatterns = def.AttackPatterns
	}
	if len(ind.Assets) == 0 {
		ind.Assets = def.Assets
	}
	if len(ind.Users) == 0 {
		ind.Users = def.Users
	}
	return ind, nil
}
