package detect

import (
	"errors"
	"testing"

	"github.com/rawblock/wallet-investigator/pkg/models"
)

func TestClassify(t *testing.T) {
	c := NewClassifier(models.ChainEthereum)

	tests := []struct {
		name      string
		address   string
		chain     string
		minConf   float64
		maxConf   float64
		ambiguous bool
	}{
		{"evm checksummed", "0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6", "ethereum", 0.6, 0.7, true},
		{"evm lowercase", "0x0000000000000000000000000000000000000000", "ethereum", 0.6, 0.7, true},
		{"bitcoin genesis", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", "bitcoin", 0.9, 1.0, false},
		{"bitcoin p2sh", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", "bitcoin", 0.9, 1.0, false},
		{"bitcoin bech32", "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", "bitcoin", 0.9, 1.0, false},
		{"solana", "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", "solana", 0.9, 1.0, false},
		{"surrounding whitespace", "  1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa\n", "bitcoin", 0.9, 1.0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := c.Classify(tt.address)
			if err != nil {
				t.Fatalf("Classify(%q) unexpected error: %v", tt.address, err)
			}
			if det.Chain != tt.chain {
				t.Errorf("Expected chain %s. Got: %s", tt.chain, det.Chain)
			}
			if det.Confidence < tt.minConf || det.Confidence > tt.maxConf {
				t.Errorf("Expected confidence in [%.2f, %.2f]. Got: %.2f", tt.minConf, tt.maxConf, det.Confidence)
			}
			if det.Ambiguous != tt.ambiguous {
				t.Errorf("Expected ambiguous=%v. Got: %v", tt.ambiguous, det.Ambiguous)
			}
			if len(det.Candidates) == 0 {
				t.Error("Expected at least one candidate")
			}
		})
	}
}

func TestClassify_Unrecognized(t *testing.T) {
	c := NewClassifier(models.ChainEthereum)

	for _, addr := range []string{"", "   ", "hello", "0x123", "0xZZZd35Cc6634C0532925a3b8D4C9db96C4b4d8b6", "bc1"} {
		_, err := c.Classify(addr)
		if !errors.Is(err, models.ErrUnrecognizedAddressFormat) {
			t.Errorf("Classify(%q): expected ErrUnrecognizedAddressFormat. Got: %v", addr, err)
		}
	}
}

func TestClassify_ConfigurableDefault(t *testing.T) {
	c := NewClassifier("Polygon")
	det, err := c.Classify("0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6")
	if err != nil {
		t.Fatal(err)
	}
	if det.Chain != models.ChainPolygon {
		t.Errorf("Expected polygon. Got: %s", det.Chain)
	}
	if len(det.Candidates) != len(models.AccountChains) {
		t.Errorf("Expected %d candidates. Got: %d", len(models.AccountChains), len(det.Candidates))
	}

	// Unknown defaults fall back to ethereum.
	det, err = NewClassifier("bitcoin").Classify("0x742d35Cc6634C0532925a3b8D4C9db96C4b4d8b6")
	if err != nil {
		t.Fatal(err)
	}
	if det.Chain != models.ChainEthereum {
		t.Errorf("Expected ethereum fallback. Got: %s", det.Chain)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	c := NewClassifier(models.ChainEthereum)
	addr := "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
	first, _ := c.Classify(addr)
	for i := 0; i < 10; i++ {
		next, _ := c.Classify(addr)
		if next.Chain != first.Chain || next.Confidence != first.Confidence {
			t.Fatalf("Classify is not deterministic: %+v vs %+v", first, next)
		}
	}
}
