package zuora

import (
	"context"
	"fmt"

	"github.com/iho/billsync/internal/domain"
)

// ZOQL queries for the record sets the reconciliation pipeline consumes.
// Each select list names the column labels the CSV comes back with. The
// Account.SamepageId__c custom field carries the CRM identity used for
// account grouping.
const (
	chargeRowsQuery = "select " +
		"AccountingCode,AppliedToInvoiceItemId,ChargeAmount,ChargeName,Id," +
		"Quantity,ServiceEndDate,ServiceStartDate,TaxAmount,UOM," +
		"Account.AccountNumber,Account.Currency,Account.Name,Account.SamepageId__c,Account.Status," +
		"Invoice.Amount,Invoice.Balance,Invoice.DueDate,Invoice.InvoiceNumber," +
		"Invoice.PostedDate,Invoice.Status," +
		"Subscription.CancelledDate,Subscription.Id,Subscription.Name" +
		" from InvoiceItem"

	paymentsQuery = "select " +
		"Invoice.InvoiceNumber," +
		"Payment.Amount,Payment.CreatedDate,Payment.Id,Payment.PaymentNumber,Payment.Status" +
		" from InvoicePayment"

	refundsQuery = "select " +
		"Invoice.InvoiceNumber," +
		"Refund.Amount,Refund.Id,Refund.RefundDate,Refund.RefundNumber,Refund.Status" +
		" from RefundInvoicePayment"

	itemAdjustmentsQuery = "select " +
		"Amount,Id,Status,Type," +
		"Invoice.InvoiceNumber,InvoiceItem.Id" +
		" from InvoiceItemAdjustment"

	invoiceAdjustmentsQuery = "select " +
		"Amount,Id,Status,Type," +
		"Invoice.InvoiceNumber" +
		" from InvoiceAdjustment"

	creditBalanceAdjustmentsQuery = "select " +
		"Amount,CreatedDate,Id,Status,Type," +
		"Account.AccountNumber,Account.SamepageId__c," +
		"Invoice.InvoiceNumber," +
		"Refund.Amount,Refund.RefundDate,Refund.RefundNumber,Refund.Status" +
		" from CreditBalanceAdjustment"

	ratePlansQuery = "select " +
		"ProductRatePlanCharge.BillingPeriod,ProductRatePlanCharge.Id," +
		"ProductRatePlan.Id,ProductRatePlan.Name" +
		" from ProductRatePlanCharge"
)

// Loader implements usecase.ExportLoader against the AQuA client.
type Loader struct {
	client *Client
}

// NewLoader creates a new Loader.
func NewLoader(client *Client) *Loader {
	return &Loader{client: client}
}

// ChargeRows fetches all invoice items with pre-joined invoice, account and
// subscription context.
func (l *Loader) ChargeRows(ctx context.Context) ([]domain.ChargeRow, error) {
	records, err := l.fetch(ctx, "invoice_items", chargeRowsQuery)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.ChargeRow, 0, len(records))
	for i, rec := range records {
		row, err := toChargeRow(rec)
		if err != nil {
			return nil, fmt.Errorf("invoice item %d: %w", i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Payments fetches all invoice payments.
func (l *Loader) Payments(ctx context.Context) ([]domain.PaymentRecord, error) {
	records, err := l.fetch(ctx, "payments", paymentsQuery)
	if err != nil {
		return nil, err
	}

	payments := make([]domain.PaymentRecord, 0, len(records))
	for i, rec := range records {
		amount, err := rec.decPtr("Payment.Amount")
		if err != nil {
			return nil, fmt.Errorf("payment %d: %w", i+1, err)
		}
		occurredAt, err := rec.timePtr("Payment.CreatedDate")
		if err != nil {
			return nil, fmt.Errorf("payment %d: %w", i+1, err)
		}
		payments = append(payments, domain.PaymentRecord{
			Number:        rec.str("Payment.PaymentNumber"),
			InvoiceNumber: rec.str("Invoice.InvoiceNumber"),
			Status:        rec.str("Payment.Status"),
			OccurredAt:    occurredAt,
			Amount:        amount,
		})
	}
	return payments, nil
}

// Refunds fetches all refunds linked to invoice payments.
func (l *Loader) Refunds(ctx context.Context) ([]domain.PaymentRecord, error) {
	records, err := l.fetch(ctx, "refunds", refundsQuery)
	if err != nil {
		return nil, err
	}

	refunds := make([]domain.PaymentRecord, 0, len(records))
	for i, rec := range records {
		amount, err := rec.decPtr("Refund.Amount")
		if err != nil {
			return nil, fmt.Errorf("refund %d: %w", i+1, err)
		}
		occurredAt, err := rec.timePtr("Refund.RefundDate")
		if err != nil {
			return nil, fmt.Errorf("refund %d: %w", i+1, err)
		}
		refunds = append(refunds, domain.PaymentRecord{
			Number:        rec.str("Refund.RefundNumber"),
			InvoiceNumber: rec.str("Invoice.InvoiceNumber"),
			Status:        rec.str("Refund.Status"),
			OccurredAt:    occurredAt,
			RefundAmount:  amount,
		})
	}
	return refunds, nil
}

// ItemAdjustments fetches all invoice item adjustments.
func (l *Loader) ItemAdjustments(ctx context.Context) ([]domain.ItemAdjustment, error) {
	records, err := l.fetch(ctx, "item_adjustments", itemAdjustmentsQuery)
	if err != nil {
		return nil, err
	}

	adjs := make([]domain.ItemAdjustment, 0, len(records))
	for i, rec := range records {
		amount, err := rec.dec("Amount")
		if err != nil {
			return nil, fmt.Errorf("item adjustment %d: %w", i+1, err)
		}
		adjs = append(adjs, domain.ItemAdjustment{
			ID:            rec.str("Id"),
			InvoiceNumber: rec.str("Invoice.InvoiceNumber"),
			ItemID:        rec.str("InvoiceItem.Id"),
			Type:          rec.str("Type"),
			Status:        rec.str("Status"),
			Amount:        amount,
		})
	}
	return adjs, nil
}

// InvoiceAdjustments fetches all whole-invoice adjustments.
func (l *Loader) InvoiceAdjustments(ctx context.Context) ([]domain.InvoiceAdjustment, error) {
	records, err := l.fetch(ctx, "invoice_adjustments", invoiceAdjustmentsQuery)
	if err != nil {
		return nil, err
	}

	adjs := make([]domain.InvoiceAdjustment, 0, len(records))
	for i, rec := range records {
		amount, err := rec.dec("Amount")
		if err != nil {
			return nil, fmt.Errorf("invoice adjustment %d: %w", i+1, err)
		}
		adjs = append(adjs, domain.InvoiceAdjustment{
			ID:            rec.str("Id"),
			InvoiceNumber: rec.str("Invoice.InvoiceNumber"),
			Type:          rec.str("Type"),
			Status:        rec.str("Status"),
			Amount:        amount,
		})
	}
	return adjs, nil
}

// CreditBalanceAdjustments fetches all credit balance movements.
func (l *Loader) CreditBalanceAdjustments(ctx context.Context) ([]domain.CreditBalanceAdjustment, error) {
	records, err := l.fetch(ctx, "credit_balance_adjustments", creditBalanceAdjustmentsQuery)
	if err != nil {
		return nil, err
	}

	adjs := make([]domain.CreditBalanceAdjustment, 0, len(records))
	for i, rec := range records {
		amount, err := rec.dec("Amount")
		if err != nil {
			return nil, fmt.Errorf("credit balance adjustment %d: %w", i+1, err)
		}
		createdAt, err := rec.time("CreatedDate")
		if err != nil {
			return nil, fmt.Errorf("credit balance adjustment %d: %w", i+1, err)
		}
		accountID := rec.str("Account.SamepageId__c")
		if accountID == "" {
			accountID = rec.str("Account.AccountNumber")
		}
		adjs = append(adjs, domain.CreditBalanceAdjustment{
			ID:            rec.str("Id"),
			AccountID:     accountID,
			InvoiceNumber: rec.str("Invoice.InvoiceNumber"),
			RefundNumber:  rec.str("Refund.RefundNumber"),
			Type:          rec.str("Type"),
			Status:        rec.str("Status"),
			Amount:        amount,
			CreatedAt:     createdAt,
		})
	}
	return adjs, nil
}

// RatePlans fetches the product catalog's rate plan charges.
func (l *Loader) RatePlans(ctx context.Context) ([]domain.RatePlanCharge, error) {
	records, err := l.fetch(ctx, "rate_plans", ratePlansQuery)
	if err != nil {
		return nil, err
	}

	charges := make([]domain.RatePlanCharge, 0, len(records))
	for _, rec := range records {
		charges = append(charges, domain.RatePlanCharge{
			PlanID:        rec.str("ProductRatePlan.Id"),
			PlanName:      rec.str("ProductRatePlan.Name"),
			ChargeID:      rec.str("ProductRatePlanCharge.Id"),
			BillingPeriod: rec.str("ProductRatePlanCharge.BillingPeriod"),
		})
	}
	return charges, nil
}

func (l *Loader) fetch(ctx context.Context, name, query string) ([]record, error) {
	data, err := l.client.Export(ctx, name, query)
	if err != nil {
		return nil, err
	}
	records, err := parseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s export: %w", name, err)
	}
	return records, nil
}

func toChargeRow(rec record) (domain.ChargeRow, error) {
	var row domain.ChargeRow
	var err error

	if row.ChargeAmount, err = rec.dec("ChargeAmount"); err != nil {
		return row, err
	}
	if row.Quantity, err = rec.dec("Quantity"); err != nil {
		return row, err
	}
	if row.TaxAmount, err = rec.dec("TaxAmount"); err != nil {
		return row, err
	}
	if row.ServiceStart, err = rec.time("ServiceStartDate"); err != nil {
		return row, err
	}
	if row.ServiceEnd, err = rec.time("ServiceEndDate"); err != nil {
		return row, err
	}

	row.ItemID = rec.str("Id")
	row.ChargeName = rec.str("ChargeName")
	row.AppliedToItemID = rec.str("AppliedToInvoiceItemId")
	row.AccountingCode = rec.str("AccountingCode")
	row.UOM = rec.str("UOM")

	row.Subscription.ID = rec.str("Subscription.Id")
	row.Subscription.Name = rec.str("Subscription.Name")
	if row.Subscription.CancelledAt, err = rec.timePtr("Subscription.CancelledDate"); err != nil {
		return row, err
	}

	row.Invoice.Number = rec.str("Invoice.InvoiceNumber")
	row.Invoice.Status = rec.str("Invoice.Status")
	if row.Invoice.PostedAt, err = rec.timePtr("Invoice.PostedDate"); err != nil {
		return row, err
	}
	if row.Invoice.DueAt, err = rec.timePtr("Invoice.DueDate"); err != nil {
		return row, err
	}
	if row.Invoice.Amount, err = rec.dec("Invoice.Amount"); err != nil {
		return row, err
	}
	if row.Invoice.Balance, err = rec.dec("Invoice.Balance"); err != nil {
		return row, err
	}

	row.Account.Number = rec.str("Account.AccountNumber")
	row.Account.CRMID = rec.str("Account.SamepageId__c")
	row.Account.Name = rec.str("Account.Name")
	row.Account.Currency = rec.str("Account.Currency")
	row.Account.Status = rec.str("Account.Status")

	return row, nil
}
