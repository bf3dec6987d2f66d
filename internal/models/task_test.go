package models

import "testing"

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from     string
		to       string
		expected bool
	}{
		// Happy path
		{TaskStatusSearching, TaskStatusOffered, true},
		{TaskStatusOffered, TaskStatusInProgress, true},
		{TaskStatusOffered, TaskStatusSearching, true}, // decline/timeout requeue
		{TaskStatusInProgress, TaskStatusPendingApproval, true},
		{TaskStatusPendingApproval, TaskStatusCompleted, true},

		// Dispute paths
		{TaskStatusInProgress, TaskStatusDisputed, true},
		{TaskStatusPendingApproval, TaskStatusDisputed, true},
		{TaskStatusDisputed, TaskStatusCompleted, true},
		{TaskStatusDisputed, TaskStatusCancelled, true},

		// Cancellation paths
		{TaskStatusSearching, TaskStatusCancelled, true},
		{TaskStatusOffered, TaskStatusCancelled, true},

		// Invalid transitions
		{TaskStatusSearching, TaskStatusInProgress, false},
		{TaskStatusSearching, TaskStatusCompleted, false},
		{TaskStatusInProgress, TaskStatusSearching, false},
		{TaskStatusInProgress, TaskStatusCancelled, false},
		{TaskStatusPendingApproval, TaskStatusCancelled, false},
		{TaskStatusCompleted, TaskStatusDisputed, false},
		{TaskStatusCompleted, TaskStatusCancelled, false},
		{TaskStatusCancelled, TaskStatusSearching, false},
		{TaskStatusCancelled, TaskStatusCompleted, false},
		{"nonexistent", TaskStatusOffered, false},
		{TaskStatusSearching, "nonexistent", false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			result := IsValidTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("IsValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestAllStatusesHaveTransitionEntry(t *testing.T) {
	allStatuses := []string{
		TaskStatusSearching, TaskStatusOffered, TaskStatusInProgress,
		TaskStatusPendingApproval, TaskStatusCompleted, TaskStatusDisputed,
		TaskStatusCancelled,
	}

	for _, status := range allStatuses {
		if _, ok := ValidTaskTransitions[status]; !ok {
			t.Errorf("status %q missing from ValidTaskTransitions map", status)
		}
	}
}

func TestTerminalStatusesHaveNoTransitions(t *testing.T) {
	terminal := []string{TaskStatusCompleted, TaskStatusCancelled}
	for _, status := range terminal {
		if !IsTerminalStatus(status) {
			t.Errorf("status %q should be terminal, transitions: %v", status, ValidTaskTransitions[status])
		}
	}
	for status := range ValidTaskTransitions {
		if status == TaskStatusCompleted || status == TaskStatusCancelled {
			continue
		}
		if IsTerminalStatus(status) {
			t.Errorf("status %q should not be terminal", status)
		}
	}
}

func TestWithdrawableBalance(t *testing.T) {
	tests := []struct {
		name string
		user User
		want float64
	}{
		{"earned only", User{AvailableBalance: 200, LifetimeEarned: 150}, 150},
		{"capped by available", User{AvailableBalance: 50, LifetimeEarned: 150}, 50},
		{"already withdrawn", User{AvailableBalance: 200, LifetimeEarned: 150, WithdrawnTotal: 150}, 0},
		{"nothing earned", User{AvailableBalance: 80}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.user.WithdrawableBalance(); got != tt.want {
				t.Errorf("WithdrawableBalance() = %v, want %v", got, tt.want)
			}
		})
	}
}
