package domain

import (
	"testing"
	"time"
)

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		sender string
		want   string
	}{
		{"user@Example.COM", "example.com"},
		{"billing@shop.example.com", "shop.example.com"},
		{"no-at-sign", ""},
		{"", ""},
		{"trailing@", ""},
	}
	for _, tt := range tests {
		m := &Message{Sender: tt.sender}
		if got := m.SenderDomain(); got != tt.want {
			t.Errorf("SenderDomain(%q) = %q, want %q", tt.sender, got, tt.want)
		}
	}
}

func TestApplyClassification(t *testing.T) {
	msg := &Message{MessageID: "m1"}
	at := time.Now().UTC()

	msg.ApplyClassification(&ClassificationResult{
		Category:    "purchase",
		Confidence:  1.0,
		Method:      MethodRule,
		Explanation: "rule matched",
		RuleName:    "order rule",
	}, at)

	if !msg.IsProcessed {
		t.Error("message not marked processed")
	}
	if msg.Category == nil || *msg.Category != "purchase" {
		t.Errorf("category = %v, want purchase", msg.Category)
	}
	if msg.Method == nil || *msg.Method != MethodRule {
		t.Errorf("method = %v, want rule", msg.Method)
	}
	if msg.MatchedRule == nil || *msg.MatchedRule != "order rule" {
		t.Errorf("matched rule = %v, want order rule", msg.MatchedRule)
	}
	if msg.ProcessedAt == nil || !msg.ProcessedAt.Equal(at) {
		t.Errorf("processed at = %v, want %v", msg.ProcessedAt, at)
	}

	// No rule name leaves MatchedRule nil.
	other := &Message{}
	other.ApplyClassification(&ClassificationResult{Category: "festival", Method: MethodLLM}, at)
	if other.MatchedRule != nil {
		t.Errorf("matched rule = %v, want nil", other.MatchedRule)
	}
}

func TestClassificationResultIsRoutable(t *testing.T) {
	tests := []struct {
		category string
		want     bool
	}{
		{"purchase", true},
		{"techsupport", true},
		{CategoryUnclassified, false},
		{CategoryError, false},
		{CategoryUnknown, false},
	}
	for _, tt := range tests {
		r := &ClassificationResult{Category: tt.category}
		if got := r.IsRoutable(); got != tt.want {
			t.Errorf("IsRoutable(%q) = %v, want %v", tt.category, got, tt.want)
		}
	}
}

func TestParseStageType(t *testing.T) {
	tests := []struct {
		method string
		want   StageType
		ok     bool
	}{
		{"rule", StageRule, true},
		{"fasttext", StageFastText, true},
		{"bert", StageBERT, true},
		{"llm", StageLLM, true},
		{"stepgo", StageRule, false}, // the cascade itself is not a stage
		{"", StageRule, false},
	}
	for _, tt := range tests {
		got, ok := ParseStageType(tt.method)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("ParseStageType(%q) = %v/%v, want %v/%v", tt.method, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStageTypeRoundTrip(t *testing.T) {
	for _, st := range CascadeOrder {
		parsed, ok := ParseStageType(st.String())
		if !ok || parsed != st {
			t.Errorf("round trip for %v failed: got %v/%v", st, parsed, ok)
		}
	}
}

func TestMailboxTokenExpired(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	soon := now.Add(time.Minute) // inside the 2 minute skew
	past := now.Add(-time.Hour)

	tests := []struct {
		name   string
		expiry *time.Time
		want   bool
	}{
		{"nil expiry treated as expired", nil, true},
		{"future expiry valid", &future, false},
		{"expiring within skew", &soon, true},
		{"past expiry", &past, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Mailbox{TokenExpiry: tt.expiry}
			if got := m.TokenExpired(now); got != tt.want {
				t.Errorf("TokenExpired = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestForwardingRuleHelpers(t *testing.T) {
	rule := &ForwardingRule{
		EmailTypes: []string{"sales_inquiry", "general_inquiry"},
		Addresses: []ForwardingAddress{
			{Email: "a@x.com", IsActive: true},
			{Email: "b@x.com", IsActive: false},
			{Email: "c@x.com", IsActive: true},
		},
	}

	active := rule.ActiveAddresses()
	if len(active) != 2 || active[0].Email != "a@x.com" || active[1].Email != "c@x.com" {
		t.Errorf("active addresses = %v, want a@x.com and c@x.com in order", active)
	}

	if !rule.HandlesEmailType("sales_inquiry") {
		t.Error("rule should handle sales_inquiry")
	}
	if rule.HandlesEmailType("urgent_issue") {
		t.Error("rule should not handle urgent_issue")
	}
}
