package service

import (
	"time"

	"solana-forensics/config"
	"solana-forensics/internal/core/domain"
)

func testDetection() config.Detection {
	return config.Detection{
		LargeTransfer:           100,
		MinTransfer:             1,
		HighValue:               1000,
		MediumValue:             100,
		FanOutMinRecipients:     3,
		FanOutWindow:            60 * time.Second,
		ClusterMinInteractions:  3,
		ClusterWindow:           5 * time.Minute,
		VelocityMaxTransactions: 10,
		RapidMovementWindow:     60 * time.Second,
		RecentCacheSize:         20,
		PollInterval:            10 * time.Second,
		TraceMaxDepth:           3,
		MixerPattern:            `(?i)(mixer|tornado|tumbler)`,
	}
}

func testStore() *config.DetectionStore {
	return config.NewDetectionStore(testDetection())
}

func at(sec int64) *time.Time {
	t := time.Unix(1_700_000_000+sec, 0).UTC()
	return &t
}

func xfer(sig, from, to string, amount int64, when *time.Time) domain.Transaction {
	return domain.Transaction{
		Signature: sig,
		Slot:      uint64(len(sig)),
		BlockTime: when,
		Fee:       5000,
		Status:    domain.TxStatusSuccess,
		BalanceChanges: []domain.BalanceChange{
			{Account: from, PreBalance: 10_000, PostBalance: 10_000 - amount, Delta: -amount},
			{Account: to, PreBalance: 0, PostBalance: amount, Delta: amount},
		},
		Instructions: []domain.Instruction{
			{ProgramID: "11111111111111111111111111111111", Accounts: []string{from, to}},
		},
	}
}
