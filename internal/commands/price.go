package commands

import (
	"fmt"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"levels-telegram-bot/internal/price"
	"time"
)

const quoteCacheDuration = 30 * time.Second

func CommandPrice(svc *price.Service, argument string) (string, error) {
	log.Debugf("processing command /p with argument :%s", argument)

	if item, found := cacheGet(argument); found {
		log.Debugf("quote cache hit for %s", argument)
		return item.Text, nil
	}

	q, err := svc.Quote(argument)
	if err != nil {
		return "", errors.Wrap(err, "command /p")
	}

	text := fmt.Sprintf("*%s price:*\n\n▫️`%s` *USD* \\(%s%%\\)",
		escapeMarkdownV2(q.Name),
		formatPriceUS(q.Price, false),
		escapeMarkdownV2(fmt.Sprintf("%+.2f", q.PercentChange24h)))

	cacheSet(argument, text, quoteCacheDuration)
	return text, nil
}
