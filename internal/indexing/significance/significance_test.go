package significance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/vietddude/dropwatch/internal/core/domain"
)

func transfer(amount string) domain.ClassifiedTransaction {
	d := decimal.RequireFromString(amount)
	return domain.ClassifiedTransaction{
		Kind:         domain.KindTransfer,
		TokenSymbol:  "ETH",
		Amount:       d,
		NativeAmount: d,
		USDValue:     d.Mul(decimal.NewFromInt(2500)),
		PriceKnown:   true,
	}
}

func onlyTransfers(minValue string) domain.FilterConfig {
	return domain.FilterConfig{MinValue: minValue, NotifyOnTransfer: true}
}

func TestIsNotifyWorthy_TransferBoundary(t *testing.T) {
	f := NewFilter(100)
	cfg := onlyTransfers("0.01")

	assert.False(t, f.IsNotifyWorthy(transfer("0.01"), cfg), "equal to threshold must not notify")
	assert.True(t, f.IsNotifyWorthy(transfer("0.010000000000000001"), cfg))
	assert.True(t, f.IsNotifyWorthy(transfer("0.05"), cfg))
	assert.False(t, f.IsNotifyWorthy(transfer("0.005"), cfg))
}

func TestEvaluate(t *testing.T) {
	f := NewFilter(100)
	none := domain.FilterConfig{MinValue: "0"}

	tests := []struct {
		name string
		ct   domain.ClassifiedTransaction
		cfg  domain.FilterConfig
		want Reason
	}{
		{
			name: "mint enabled",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindMint},
			cfg:  domain.FilterConfig{NotifyOnMint: true},
			want: ReasonMint,
		},
		{
			name: "mint disabled",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindMint},
			cfg:  none,
			want: ReasonNone,
		},
		{
			name: "nft mint with nft tracking off",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindMint, IsNFT: true},
			cfg:  domain.FilterConfig{NotifyOnMint: true},
			want: ReasonNone,
		},
		{
			name: "nft mint with nft tracking on",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindMint, IsNFT: true},
			cfg:  domain.FilterConfig{NotifyOnMint: true, TrackNFTs: true},
			want: ReasonMint,
		},
		{
			name: "token transfer with token tracking off",
			ct: domain.ClassifiedTransaction{
				Kind:         domain.KindTransfer,
				TokenAddress: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
				Amount:       decimal.NewFromInt(5),
			},
			cfg:  onlyTransfers("0"),
			want: ReasonNone,
		},
		{
			name: "swap with defi",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindSwap},
			cfg:  domain.FilterConfig{TrackDeFi: true},
			want: ReasonDeFi,
		},
		{
			name: "contract interaction with defi",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindContractInteraction},
			cfg:  domain.FilterConfig{TrackDeFi: true},
			want: ReasonDeFi,
		},
		{
			name: "swap without defi below floor",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindSwap, USDValue: decimal.NewFromInt(50), PriceKnown: true},
			cfg:  none,
			want: ReasonNone,
		},
		{
			name: "usd floor regardless of kind",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindBurn, USDValue: decimal.NewFromInt(101), PriceKnown: true},
			cfg:  none,
			want: ReasonUSDFloor,
		},
		{
			name: "usd floor is strict",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindBurn, USDValue: decimal.NewFromInt(100), PriceKnown: true},
			cfg:  none,
			want: ReasonNone,
		},
		{
			name: "unknown price contributes nothing",
			ct:   domain.ClassifiedTransaction{Kind: domain.KindSwap, USDValue: decimal.NewFromInt(1000)},
			cfg:  none,
			want: ReasonNone,
		},
		{
			name: "small transfer falls back to usd floor",
			ct:   transfer("0.05"),
			cfg:  onlyTransfers("1"),
			want: ReasonUSDFloor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Evaluate(tt.ct, tt.cfg))
		})
	}
}

func TestNewFilter_DefaultThreshold(t *testing.T) {
	f := NewFilter(0)
	ct := domain.ClassifiedTransaction{Kind: domain.KindBurn, USDValue: decimal.NewFromInt(150), PriceKnown: true}
	assert.True(t, f.IsNotifyWorthy(ct, domain.FilterConfig{}))
}

func TestPriceTable(t *testing.T) {
	p := NewPriceTable(DefaultPrices)

	price, ok := p.PriceUSD("cbETH")
	assert.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(2500)))

	price, ok = p.PriceUSD("degen")
	assert.True(t, ok)
	assert.True(t, price.Equal(decimal.RequireFromString("0.001")))

	_, ok = p.PriceUSD("PEPE")
	assert.False(t, ok)

	p.Set("pepe", decimal.RequireFromString("0.00001"))
	_, ok = p.PriceUSD("PEPE")
	assert.True(t, ok)
}
