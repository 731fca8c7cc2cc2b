// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"

	"github.com/reid15halo-ops/Local-Buisness-automizer-sub002/entity"
)

// Customers

func (r *Repository) GetCustomers(ctx context.Context, filter entity.Filter) []entity.Record {
	return r.Get(ctx, entity.Customers, filter)
}

func (r *Repository) SaveCustomer(ctx context.Context, data entity.Record) (entity.Record, error) {
	return r.Save(ctx, entity.Customers, data)
}

func (r *Repository) DeleteCustomer(ctx context.Context, id string) error {
	return r.Delete(ctx, entity.Customers, id)
}

func (r *Repository) UpdateCustomerStatus(ctx context.Context, id, status string, extra entity.Record) (entity.Record, error) {
	return r.UpdateStatus(ctx, entity.Customers, id, status, extra)
}

// Invoices

func (r *Repository) GetInvoices(ctx context.Context, filter entity.Filter) []entity.Record {
	return r.Get(ctx, entity.Invoices, filter)
}

func (r *Repository) SaveInvoice(ctx context.Context, data entity.Record) (entity.Record, error) {
	return r.Save(ctx, entity.Invoices, data)
}

func (r *Repository) DeleteInvoice(ctx context.Context, id string) error {
	return r.Delete(ctx, entity.Invoices, id)
}

func (r *Repository) UpdateInvoiceStatus(ctx context.Context, id, status string, extra entity.Record) (entity.Record, error) {
	return r.UpdateStatus(ctx, entity.Invoices, id, status, extra)
}

// Quotes

func (r *Repository) GetQuotes(ctx context.Context, filter entity.Filter) []entity.Record {
	return r.Get(ctx, entity.Quotes, filter)
}

func (r *Repository) SaveQuote(ctx context.Context, data entity.Record) (entity.Record, error) {
	return r.Save(ctx, entity.Quotes, data)
}

func (r *Repository) DeleteQuote(ctx context.Context, id string) error {
	return r.Delete(ctx, entity.Quotes, id)
}

func (r *Repository) UpdateQuoteStatus(ctx context.Context, id, status string, extra entity.Record) (entity.Record, error) {
	return r.UpdateStatus(ctx, entity.Quotes, id, status, extra)
}

// Orders

func (r *Repository) GetOrders(ctx context.Context, filter entity.Filter) []entity.Record {
	return r.Get(ctx, entity.Orders, filter)
}

func (r *Repository) SaveOrder(ctx context.Context, data entity.Record) (entity.Record, error) {
	return r.Save(ctx, entity.Orders, data)
}

func (r *Repository) DeleteOrder(ctx context.Context, id string) error {
	return r.Delete(ctx, entity.Orders, id)
}

func (r *Repository) UpdateOrderStatus(ctx context.Context, id, status string, extra entity.Record) (entity.Record, error) {
	return r.UpdateStatus(ctx, entity.Orders, id, status, extra)
}

// Jobs

func (r *Repository) GetJobs(ctx context.Context, filter entity.Filter) []entity.Record {
	return r.Get(ctx, entity.Jobs, filter)
}

func (r *Repository) SaveJob(ctx context.Context, data entity.Record) (entity.Record, error) {
	return r.Save(ctx, entity.Jobs, data)
}

func (r *Repository) DeleteJob(ctx context.Context, id string) error {
	return r.Delete(ctx, entity.Jobs, id)
}

func (r *Repository) UpdateJobRecordStatus(ctx context.Context, id, status string, extra entity.Record) (entity.Record, error) {
	return r.UpdateStatus(ctx, entity.Jobs, id, status, extra)
}
