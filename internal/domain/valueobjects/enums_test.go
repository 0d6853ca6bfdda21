package valueobjects

import "testing"

func TestDeriveUrgency(t *testing.T) {
	tests := []struct {
		name     string
		category TicketCategory
		game     string
		want     Urgency
	}{
		{"connectivity on competitive title", CategoryConnectivity, "valorant", UrgencyHigh},
		{"performance on competitive title", CategoryPerformance, "cs2", UrgencyMedium},
		{"equipment", CategoryEquipment, "minecraft", UrgencyMedium},
		{"connectivity on non-competitive title", CategoryConnectivity, "minecraft", UrgencyNormal},
		{"others", CategoryOthers, "", UrgencyNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveUrgency(tt.category, tt.game); got != tt.want {
				t.Errorf("DeriveUrgency(%v, %v) = %v, want %v", tt.category, tt.game, got, tt.want)
			}
		})
	}
}

func TestTicketStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to TicketStatus
		want     bool
	}{
		{TicketPending, TicketOpen, true},
		{TicketPending, TicketResolved, false},
		{TicketOpen, TicketInProgress, true},
		{TicketInProgress, TicketResolved, true},
		{TicketInProgress, TicketPending, false},
		{TicketResolved, TicketClosed, true},
		{TicketResolved, TicketOpen, true},
		{TicketClosed, TicketOpen, false},
		{TicketCancelled, TicketOpen, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s.CanTransition(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTicketStatus_IsActive(t *testing.T) {
	active := []TicketStatus{TicketPending, TicketOpen, TicketInProgress}
	inactive := []TicketStatus{TicketResolved, TicketClosed, TicketCancelled}
	for _, s := range active {
		if !s.IsActive() {
			t.Errorf("%s should be active", s)
		}
	}
	for _, s := range inactive {
		if s.IsActive() {
			t.Errorf("%s should not be active", s)
		}
	}
}

func TestTicketStatus_IsTerminal(t *testing.T) {
	if !TicketClosed.IsTerminal() || !TicketCancelled.IsTerminal() {
		t.Error("CLOSED and CANCELLED should be terminal")
	}
	if TicketResolved.IsTerminal() {
		t.Error("RESOLVED should not be terminal (can still close or reopen)")
	}
}

func TestTicketStatus_PortugueseName(t *testing.T) {
	tests := map[TicketStatus]string{
		TicketPending:    "Pendente",
		TicketOpen:       "Em Análise",
		TicketInProgress: "Em Atendimento",
		TicketResolved:   "Resolvido",
		TicketClosed:     "Fechado",
		TicketCancelled:  "Cancelado",
	}
	for status, want := range tests {
		if got := status.PortugueseName(); got != want {
			t.Errorf("%s.PortugueseName() = %q, want %q", status, got, want)
		}
	}
}

func TestIntegrationPriority_Rank(t *testing.T) {
	if PriorityUrgent.Rank() <= PriorityHigh.Rank() {
		t.Error("URGENT should outrank HIGH")
	}
	if PriorityHigh.Rank() <= PriorityNormal.Rank() {
		t.Error("HIGH should outrank NORMAL")
	}
	if PriorityNormal.Rank() <= PriorityLow.Rank() {
		t.Error("NORMAL should outrank LOW")
	}
}

func TestIntegrationStatus_IsTerminal(t *testing.T) {
	terminal := []IntegrationStatus{IntegrationCompleted, IntegrationFailed, IntegrationCancelled}
	nonTerminal := []IntegrationStatus{IntegrationPending, IntegrationInProgress, IntegrationRetryScheduled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestVerificationStatus_IsTerminal(t *testing.T) {
	terminal := []VerificationStatus{VerificationCompleted, VerificationFailed, VerificationExpired, VerificationCancelled}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if VerificationPending.IsTerminal() || VerificationInProgress.IsTerminal() {
		t.Error("PENDING and IN_PROGRESS should not be terminal")
	}
}
