package storage

import (
	"context"
	"database/sql"
	"fmt"

	"treasury-alerts/internal/alert"
)

const (
	listCompaniesSQL = `SELECT
        id,
        ticker,
        name,
        currency,
        btc_holdings,
        prev_btc_holdings,
        shares_outstanding,
        market_cap_usd,
        cash_usd,
        debt_usd,
        preferred_usd
    FROM companies
    ORDER BY id;`

	latestStockPricesSQL = `SELECT DISTINCT ON (company_id)
        company_id,
        price,
        prev_close,
        as_of
    FROM stock_prices
    ORDER BY company_id, as_of DESC;`

	latestFxRatesSQL = `SELECT DISTINCT ON (currency)
        currency,
        rate_to_usd,
        rate_from_usd,
        as_of
    FROM fx_rates
    ORDER BY currency, as_of DESC;`
)

// ListCompanies loads all tracked treasury companies.
func (s *Store) ListCompanies(ctx context.Context) ([]alert.Company, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listCompaniesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list companies: %w", queryErr)
	}
	defer rows.Close()

	companies := make([]alert.Company, 0)
	for rows.Next() {
		var (
			c            alert.Company
			holdings     string
			prevHoldings sql.NullString
			shares       string
			marketCap    sql.NullString
			cash         string
			debt         string
			preferred    string
		)
		if err := rows.Scan(
			&c.ID,
			&c.Ticker,
			&c.Name,
			&c.Currency,
			&holdings,
			&prevHoldings,
			&shares,
			&marketCap,
			&cash,
			&debt,
			&preferred,
		); err != nil {
			return nil, err
		}

		var convErr error
		if c.BTCHoldings, convErr = parseDecimal(holdings, "btc_holdings"); convErr != nil {
			return nil, convErr
		}
		if c.PrevBTCHoldings, convErr = parseNullDecimal(prevHoldings, "prev_btc_holdings"); convErr != nil {
			return nil, convErr
		}
		if c.SharesOutstanding, convErr = parseDecimal(shares, "shares_outstanding"); convErr != nil {
			return nil, convErr
		}
		if c.MarketCapUSD, convErr = parseNullDecimal(marketCap, "market_cap_usd"); convErr != nil {
			return nil, convErr
		}
		if c.CashUSD, convErr = parseDecimal(cash, "cash_usd"); convErr != nil {
			return nil, convErr
		}
		if c.DebtUSD, convErr = parseDecimal(debt, "debt_usd"); convErr != nil {
			return nil, convErr
		}
		if c.PreferredUSD, convErr = parseDecimal(preferred, "preferred_usd"); convErr != nil {
			return nil, convErr
		}

		companies = append(companies, c)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return companies, nil
}

// LatestStockPrices returns the newest quote per company.
func (s *Store) LatestStockPrices(ctx context.Context) (map[int64]alert.StockQuote, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestStockPricesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest stock prices: %w", queryErr)
	}
	defer rows.Close()

	quotes := make(map[int64]alert.StockQuote)
	for rows.Next() {
		var (
			q         alert.StockQuote
			price     string
			prevClose sql.NullString
		)
		if err := rows.Scan(&q.CompanyID, &price, &prevClose, &q.AsOf); err != nil {
			return nil, err
		}

		var convErr error
		if q.Price, convErr = parseDecimal(price, "price"); convErr != nil {
			return nil, convErr
		}
		if q.PrevClose, convErr = parseNullDecimal(prevClose, "prev_close"); convErr != nil {
			return nil, convErr
		}

		quotes[q.CompanyID] = q
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return quotes, nil
}

// LatestFxRates returns the newest conversion rate per currency.
func (s *Store) LatestFxRates(ctx context.Context) (map[string]alert.FxRate, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, latestFxRatesSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("latest fx rates: %w", queryErr)
	}
	defer rows.Close()

	rates := make(map[string]alert.FxRate)
	for rows.Next() {
		var (
			r      alert.FxRate
			toUSD  string
			fromUS string
		)
		if err := rows.Scan(&r.Currency, &toUSD, &fromUS, &r.AsOf); err != nil {
			return nil, err
		}

		var convErr error
		if r.RateToUSD, convErr = parseDecimal(toUSD, "rate_to_usd"); convErr != nil {
			return nil, convErr
		}
		if r.RateFromUSD, convErr = parseDecimal(fromUS, "rate_from_usd"); convErr != nil {
			return nil, convErr
		}

		rates[r.Currency] = r
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return rates, nil
}
