package taxapi

const (
	TransactionTypeOrder  = "order"
	TransactionTypeRefund = "refund"
)

// Transaction 推送给税务服务的交易
// 金额字段按远端约定用"元"的小数表示，由调用方从分换算
type Transaction struct {
	TransactionID          string     `json:"transaction_id"`
	TransactionReferenceID string     `json:"transaction_reference_id,omitempty"`
	Type                   string     `json:"-"`
	TransactionDate        string     `json:"transaction_date"`
	Provider               string     `json:"provider"`
	ToCountry              string     `json:"to_country"`
	ToState                string     `json:"to_state"`
	ToZip                  string     `json:"to_zip"`
	ToCity                 string     `json:"to_city"`
	ToStreet               string     `json:"to_street"`
	Amount                 float64    `json:"amount"`
	Shipping               float64    `json:"shipping"`
	SalesTax               float64    `json:"sales_tax"`
	CustomerID             string     `json:"customer_id,omitempty"`
	LineItems              []LineItem `json:"line_items,omitempty"`
}

type LineItem struct {
	ID                string  `json:"id"`
	Quantity          int64   `json:"quantity"`
	ProductIdentifier string  `json:"product_identifier"`
	Description       string  `json:"description"`
	ProductTaxCode    string  `json:"product_tax_code,omitempty"`
	UnitPrice         float64 `json:"unit_price"`
	Discount          float64 `json:"discount"`
	SalesTax          float64 `json:"sales_tax"`
}
