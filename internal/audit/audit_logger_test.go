package audit

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/walletmvp/backend/internal/models"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	a := NewLogger(zap.New(core))

	src, dst := models.WalletRef(1), models.WalletRef(2)
	a.LogCommitted(&models.TransactionRecord{ID: 7, UserID: 1, Source: &src, Destination: &dst,
		Amount: decimal.NewFromInt(30), Currency: "TRY", Kind: models.TxTransfer}, false)
	a.LogRejected("transfer", 1, models.NewError(models.KindSelfTransfer, "ledger.Transfer", "same wallet"))

	entries := logs.All()
	assert.Len(t, entries, 2)

	first := entries[0].ContextMap()
	assert.Equal(t, "transfer", first["event_type"])
	assert.Equal(t, "SUCCESS", first["status"])
	assert.Equal(t, "30", first["amount"])
	assert.Equal(t, "audit", entries[0].LoggerName)

	second := entries[1].ContextMap()
	assert.Equal(t, "FAILED", second["status"])
	assert.Equal(t, map[string]string{
		"kind":  "SELF_TRANSFER",
		"error": "SELF_TRANSFER [ledger.Transfer]: same wallet",
	}, second["details"])
}
