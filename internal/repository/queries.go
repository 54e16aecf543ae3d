package repository

const walletColumns = `
    id, user_id, balance, currency, is_active, is_frozen, virtual_account_number,
    provider_name, pin_hash, last_transaction_at, version, created_at, updated_at`

const transactionColumns = `
    id, reference, type, status, amount, fee, sender_wallet_id, receiver_wallet_id,
    sender_balance_before, sender_balance_after, receiver_balance_before, receiver_balance_after,
    provider_reference, parent_transaction_id, is_adjustment, details, metadata,
    failure_reason, posting_seq, created_at, updated_at, completed_at`

const (
	GetWalletByIDQuery = `
        SELECT ` + walletColumns + `
        FROM wallets
        WHERE id = $1
    `

	GetWalletByAccountNumberQuery = `
        SELECT ` + walletColumns + `
        FROM wallets
        WHERE virtual_account_number = $1
    `

	LockWalletQuery = `
    SELECT ` + walletColumns + `
    FROM wallets
    WHERE id = $1
    FOR UPDATE
	`

	UpdateWalletBalanceWithLockQuery = `
    UPDATE wallets
    SET
        balance = $1,
        version = $2 + 1,
        last_transaction_at = NOW(),
        updated_at = NOW()
    WHERE id = $3
      AND version = $2
    RETURNING version
	`

	ListActiveWalletIDsQuery = `
    SELECT id
    FROM wallets
    WHERE last_transaction_at >= $1
    ORDER BY last_transaction_at DESC
    LIMIT NULLIF($2::int, 0)
	`

	// Удержание равно сумме незавершенных исходящих списаний.
	HeldAmountQuery = `
    SELECT COALESCE(SUM(amount + fee), 0)
    FROM transactions
    WHERE sender_wallet_id = $1
      AND status IN ('PENDING', 'PROCESSING')
	`

	InsertTransactionQuery = `
    INSERT INTO transactions (` + transactionColumns + `)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`

	UpdateTransactionQuery = `
    UPDATE transactions
    SET
        status = $2,
        sender_balance_before = $3,
        sender_balance_after = $4,
        receiver_balance_before = $5,
        receiver_balance_after = $6,
        provider_reference = $7,
        failure_reason = $8,
        posting_seq = $9,
        metadata = $10,
        completed_at = $11,
        updated_at = $12
    WHERE id = $1
	`

	GetTransactionByIDQuery = `
    SELECT ` + transactionColumns + `
    FROM transactions
    WHERE id = $1
	`

	LockTransactionQuery = GetTransactionByIDQuery + ` FOR UPDATE`

	GetTransactionByReferenceQuery = `
    SELECT ` + transactionColumns + `
    FROM transactions
    WHERE reference = $1
	`

	GetTransactionByProviderReferenceQuery = `
    SELECT ` + transactionColumns + `
    FROM transactions
    WHERE provider_reference = $1
	`

	ListWalletTransactionsQuery = `
    SELECT ` + transactionColumns + `
    FROM transactions
    WHERE (sender_wallet_id = $1 OR receiver_wallet_id = $1)
      AND ($2::text = '' OR status = $2::text)
      AND ($3::text = '' OR type = $3::text)
    ORDER BY created_at DESC, id
    LIMIT NULLIF($4::int, 0) OFFSET $5
	`

	ListStaleTransactionsQuery = `
    SELECT ` + transactionColumns + `
    FROM transactions
    WHERE status = ANY($1::text[])
      AND updated_at < $2
    ORDER BY updated_at
    LIMIT NULLIF($3::int, 0)
	`

	NextPostingSeqQuery = `SELECT nextval('ledger_posting_seq')`
)
