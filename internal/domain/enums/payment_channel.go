package enums

import "strings"

// PaymentChannel names the rail a purchase attempt settles through.
type PaymentChannel string

const (
	ChannelTelegramStars PaymentChannel = "telegram_stars"
	ChannelClick         PaymentChannel = "click"
	ChannelPayme         PaymentChannel = "payme"
	ChannelTON           PaymentChannel = "ton"
)

func ParsePaymentChannel(raw string) (PaymentChannel, bool) {
	switch PaymentChannel(strings.ToLower(strings.TrimSpace(raw))) {
	case ChannelTelegramStars:
		return ChannelTelegramStars, true
	case ChannelClick:
		return ChannelClick, true
	case ChannelPayme:
		return ChannelPayme, true
	case ChannelTON:
		return ChannelTON, true
	default:
		return "", false
	}
}

func (c PaymentChannel) String() string {
	return string(c)
}

// Currency returns the currency code frozen into attempts on this channel.
func (c PaymentChannel) Currency() string {
	switch c {
	case ChannelTelegramStars:
		return "XTR"
	default:
		return "UZS"
	}
}
