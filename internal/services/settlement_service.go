package services

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
	"github.com/walletmvp/backend/internal/models"
	"github.com/walletmvp/backend/internal/repository"
	"go.uber.org/zap"
)

const (
	MessageTypePacs008 = "pacs.008.001.08"
	MessageTypePacs002 = "pacs.002.001.08"
)

// SettlementMessage is a rendered ISO 20022 document for one ledger record.
type SettlementMessage struct {
	MessageID   string `json:"message_id"`
	MessageType string `json:"message_type"`
	RecordID    int64  `json:"record_id"`
	XML         string `json:"xml"`
}

type settlementParty struct {
	Name string
	ID   string
}

// SettlementService renders committed transfers as pacs.008 credit transfers
// and pacs.002 status reports. It only reads the store.
type SettlementService struct {
	store    repository.Reader
	agentBIC string
	logger   *zap.Logger
}

func NewSettlementService(store repository.Reader, agentBIC string, logger *zap.Logger) *SettlementService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if agentBIC == "" {
		agentBIC = "WALLETMVP"
	}
	return &SettlementService{store: store, agentBIC: agentBIC, logger: logger}
}

// ExportCreditTransfer renders a transfer or card transfer visible to userID
// as a pacs.008 document.
func (s *SettlementService) ExportCreditTransfer(ctx context.Context, userID, recordID int64) (*SettlementMessage, error) {
	rec, err := s.visibleTransfer(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	debtor, err := s.party(ctx, rec.Source)
	if err != nil {
		return nil, err
	}
	creditor, err := s.party(ctx, rec.Destination)
	if err != nil {
		return nil, err
	}

	msgID := uuid.New().String()
	body, err := ConvertToXML(s.CreatePacs008(msgID, rec, debtor, creditor))
	if err != nil {
		return nil, err
	}
	s.logger.Info("[SETTLEMENT] pacs.008 exported", zap.Int64("record_id", rec.ID), zap.String("message_id", msgID))
	return &SettlementMessage{MessageID: msgID, MessageType: MessageTypePacs008, RecordID: rec.ID, XML: body}, nil
}

// ExportStatusReport renders a pacs.002 report. Committed records are always
// settled, so the status is ACSC.
func (s *SettlementService) ExportStatusReport(ctx context.Context, userID, recordID int64) (*SettlementMessage, error) {
	rec, err := s.visibleTransfer(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	msgID := uuid.New().String()
	body, err := ConvertToXML(s.CreatePacs002(msgID, rec, "ACSC"))
	if err != nil {
		return nil, err
	}
	return &SettlementMessage{MessageID: msgID, MessageType: MessageTypePacs002, RecordID: rec.ID, XML: body}, nil
}

func (s *SettlementService) visibleTransfer(ctx context.Context, userID, recordID int64) (*models.TransactionRecord, error) {
	const op = "settlement.Export"
	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !s.visibleTo(ctx, rec, userID) {
		return nil, models.NotFound(op, fmt.Sprintf("transaction %d", recordID))
	}
	if rec.Kind != models.TxTransfer && rec.Kind != models.TxCardTransfer {
		return nil, models.NewError(models.KindInvalidRequest, op,
			fmt.Sprintf("%s records have no interbank counterpart", rec.Kind))
	}
	return rec, nil
}

func (s *SettlementService) visibleTo(ctx context.Context, rec *models.TransactionRecord, userID int64) bool {
	if rec.UserID == userID {
		return true
	}
	if rec.Destination == nil || rec.Destination.Kind != models.KindWallet {
		return false
	}
	w, err := s.store.GetWallet(ctx, rec.Destination.ID)
	return err == nil && w.UserID == userID
}

func (s *SettlementService) party(ctx context.Context, ref *models.AccountRef) (settlementParty, error) {
	if ref == nil {
		return settlementParty{}, models.NewError(models.KindInvalidRequest, "settlement.party", "record has no counterpart")
	}
	switch ref.Kind {
	case models.KindCard:
		c, err := s.store.GetCard(ctx, ref.ID)
		if err != nil {
			return settlementParty{}, err
		}
		return settlementParty{Name: c.HolderName, ID: c.MaskedNumber()}, nil
	default:
		w, err := s.store.GetWallet(ctx, ref.ID)
		if err != nil {
			return settlementParty{}, err
		}
		return settlementParty{Name: w.Email, ID: ref.String()}, nil
	}
}

func endToEndID(rec *models.TransactionRecord) string {
	if rec.IdempotencyKey != "" && len(rec.IdempotencyKey) <= 35 {
		return rec.IdempotencyKey
	}
	return "WALLET-" + strconv.FormatInt(rec.ID, 10)
}

// CreatePacs008 builds a FIToFICustomerCreditTransfer for one record. Both
// parties sit at the same agent.
func (s *SettlementService) CreatePacs008(msgID string, rec *models.TransactionRecord, debtor, creditor settlementParty) *pacs_v08.FIToFICustomerCreditTransferV08 {
	settlementDate := rec.CreatedAt
	if settlementDate.IsZero() {
		settlementDate = time.Now()
	}
	txID := common.Max35Text(strconv.FormatInt(rec.ID, 10))
	bic := common.BICFIDec2014Identifier(s.agentBIC)
	debtorName := common.Max140Text(debtor.Name)
	creditorName := common.Max140Text(creditor.Name)
	amount := pacs_v08.ActiveCurrencyAndAmount{
		Ccy:   common.ActiveCurrencyCode(rec.Currency),
		Value: rec.Amount.InexactFloat64(),
	}

	return &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:             common.Max35Text(msgID),
			CreDtTm:           common.ISODateTime(time.Now()),
			NbOfTxs:           "1",
			TtlIntrBkSttlmAmt: &amount,
			IntrBkSttlmDt:     (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "INDA",
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &txID,
					EndToEndId: common.Max35Text(endToEndID(rec)),
					TxId:       &txID,
				},
				IntrBkSttlmAmt: amount,
				IntrBkSttlmDt:  (*common.ISODate)(&settlementDate),
				ChrgBr:         "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{BICFI: &bic},
				},
				Dbtr: pacs_v08.PartyIdentification135{Nm: &debtorName},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{BICFI: &bic},
				},
				Cdtr: pacs_v08.PartyIdentification135{Nm: &creditorName},
			},
		},
	}
}

// CreatePacs002 builds a payment status report for one record.
func (s *SettlementService) CreatePacs002(msgID string, rec *models.TransactionRecord, status string) *pacs_v08.FIToFIPaymentStatusReportV08 {
	txID := common.Max35Text(strconv.FormatInt(rec.ID, 10))
	e2e := common.Max35Text(endToEndID(rec))
	sts := pacs_v08.ExternalPaymentTransactionStatus1Code(status)

	return &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(time.Now()),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &txID,
				OrgnlEndToEndId: &e2e,
				OrgnlTxId:       &txID,
				TxSts:           &sts,
			},
		},
	}
}

// ConvertToXML marshals an ISO 20022 document with the XML header.
func ConvertToXML(doc any) (string, error) {
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(data), nil
}
