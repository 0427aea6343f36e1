package gateway

import (
	"fmt"
	"strings"
)

// Topic space shared by every transport. Subjects are dot-separated with the
// channel id as the second segment, so one subscription pattern covers a whole
// channel: "roulette.<channel>.>".
const topicPrefix = "roulette"

func TopicGameState(channel string) string {
	return fmt.Sprintf("%s.%s.game.state", topicPrefix, channel)
}

func TopicGameResult(channel string) string {
	return fmt.Sprintf("%s.%s.game.result", topicPrefix, channel)
}

func TopicBetsUpdate(channel string) string {
	return fmt.Sprintf("%s.%s.bets.update", topicPrefix, channel)
}

func TopicPlayerResult(channel string, accountID int64) string {
	return fmt.Sprintf("%s.%s.player.result.%d", topicPrefix, channel, accountID)
}

func TopicBalance(channel string, accountID int64) string {
	return fmt.Sprintf("%s.%s.balance.%d", topicPrefix, channel, accountID)
}

func TopicAdminData(channel string) string {
	return fmt.Sprintf("%s.%s.admin.data", topicPrefix, channel)
}

// Reply topics are per-client or per-request, outside the channel namespace.

func TopicLoginResponse(clientID string) string {
	return "login.response." + clientID
}

func TopicBetResponse(clientID string) string {
	return "bet.response." + clientID
}

func TopicRechargeResponse(requestID string) string {
	return "admin.recharge.response." + requestID
}

func TopicQueryResponse(requestID string) string {
	return "admin.query.response." + requestID
}

// MatchTopic reports whether a concrete topic matches a subscription pattern.
// Patterns use NATS wildcards: "*" matches one segment, a trailing ">" matches
// the rest.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	ps := strings.Split(pattern, ".")
	ts := strings.Split(topic, ".")
	for i, p := range ps {
		if p == ">" {
			return i < len(ts)
		}
		if i >= len(ts) {
			return false
		}
		if p != "*" && p != ts[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}
