package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/rollboard/internal/domain/model"
)

func TestDispatch(t *testing.T) {
	Convey("Given a dispatcher on a mock producer", t, func() {
		cfg := mocks.NewTestConfig()
		cfg.Producer.Return.Successes = true
		producer := mocks.NewSyncProducer(t, cfg)
		d := New(producer, WithTopic("prizes"))
		defer func() { _ = d.Close() }()

		closure := model.Closure{
			Scope:    model.ScopeWeekly,
			Period:   "2024-W11",
			ClosedAt: time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC),
			Standings: []model.Entry{
				{Rank: 1, Player: "bob", Score: 450},
				{Rank: 2, Player: "alice", Score: 400},
			},
		}

		Convey("When the closure is dispatched", func() {
			var got Message
			producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
				if msg.Topic != "prizes" {
					return errors.New("wrong topic " + msg.Topic)
				}
				key, _ := msg.Key.Encode()
				if string(key) != "weekly:2024-W11" {
					return errors.New("wrong key " + string(key))
				}
				raw, _ := msg.Value.Encode()
				return json.Unmarshal(raw, &got)
			})
			err := d.Dispatch(context.Background(), closure)

			Convey("Then one message carries the standings", func() {
				So(err, ShouldBeNil)
				So(got.Scope, ShouldEqual, "weekly")
				So(got.Standings, ShouldHaveLength, 2)
				So(got.Standings[0].Player, ShouldEqual, "bob")
			})
		})

		Convey("When the broker rejects the message", func() {
			producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
			err := d.Dispatch(context.Background(), closure)
			So(errors.Is(err, sarama.ErrOutOfBrokers), ShouldBeTrue)
		})

		Convey("When the context is already cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			So(d.Dispatch(ctx, closure), ShouldEqual, context.Canceled)
		})
	})
}

func TestDialWithoutBrokers(t *testing.T) {
	Convey("Dial rejects an empty broker list", t, func() {
		_, err := Dial(nil)
		So(err, ShouldEqual, ErrNoBrokers)
	})
}
