package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleYAML = `
address: "0xabc123"
role: ciphernode
data_dir: /var/lib/enclave
key_file: /var/lib/enclave/key
db_file: /var/lib/enclave/enclave.db
chains:
  - name: sepolia
    rpc_url: https://rpc.example/sepolia
    contracts:
      enclave: "0x1"
      ciphernode_registry: "0x2"
      filter_registry: "0x3"
      deploy_block: 100
quic_port: 4001
enable_mdns: true
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enclave.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesReorgDepthDefault(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Chains[0].ReorgDepth != defaultReorgDepth {
		t.Fatalf("got reorg depth %d, want default %d", cfg.Chains[0].ReorgDepth, defaultReorgDepth)
	}
	if cfg.Role != RoleCiphernode {
		t.Fatalf("unexpected role %q", cfg.Role)
	}
}

func TestLoadRejectsMissingWalletForAggregator(t *testing.T) {
	bad := strings.Replace(sampleYAML, "role: ciphernode", "role: aggregator", 1)
	if _, err := Load(writeTemp(t, bad)); err != ErrMissingWallet {
		t.Fatalf("expected ErrMissingWallet, got %v", err)
	}
}

func TestLoadRejectsUnknownRole(t *testing.T) {
	bad := `
address: "0xabc"
role: supervisor
chains:
  - name: x
    rpc_url: y
`
	if _, err := Load(writeTemp(t, bad)); err != ErrInvalidRole {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
}

func TestLoadRejectsNoChains(t *testing.T) {
	bad := `
address: "0xabc"
role: ciphernode
`
	if _, err := Load(writeTemp(t, bad)); err != ErrNoChains {
		t.Fatalf("expected ErrNoChains, got %v", err)
	}
}
