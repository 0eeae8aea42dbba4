package views

// Set bundles every view over one Deps.
type Set struct {
	Home         *HomeView
	Stocks       *StocksView
	Crypto       *CryptoView
	StockDetail  *StockDetailView
	CryptoDetail *CryptoDetailView
	WatchList    *WatchListView
}

// NewSet creates all views sharing d.
func NewSet(d *Deps) *Set {
	return &Set{
		Home:         NewHomeView(d),
		Stocks:       NewStocksView(d),
		Crypto:       NewCryptoView(d),
		StockDetail:  NewStockDetailView(d),
		CryptoDetail: NewCryptoDetailView(d),
		WatchList:    NewWatchListView(d),
	}
}
