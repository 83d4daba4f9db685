package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orders-kafka/internal/messaging/kafka"
)

const (
	commandList   = "list"
	commandCreate = "create"
	commandPeek   = "peek"

	defaultPeekLimit   = 20
	defaultIdleTimeout = 2 * time.Second
)

type config struct {
	command     string
	brokers     []string
	topic       string
	partitions  int
	replication int
	limit       int
	idleTimeout time.Duration
}

type offsetClient interface {
	GetOffset(topic string, partition int32, time int64) (int64, error)
	Partitions(topic string) ([]int32, error)
	Close() error
}

type partitionConsumer interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionConsumerSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error)
	Close() error
}

type topicAdmin interface {
	ListTopics() (map[string]sarama.TopicDetail, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	Close() error
}

type saramaConsumerAdapter struct {
	consumer sarama.Consumer
}

func (a saramaConsumerAdapter) ConsumePartition(topic string, partition int32, offset int64) (partitionConsumer, error) {
	pc, err := a.consumer.ConsumePartition(topic, partition, offset)
	if err != nil {
		return nil, err
	}
	return pc, nil
}

func (a saramaConsumerAdapter) Close() error {
	if a.consumer == nil {
		return nil
	}
	return a.consumer.Close()
}

var newAdmin = func(cfg config) (topicAdmin, error) {
	admin, err := sarama.NewClusterAdmin(cfg.brokers, sarama.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka cluster admin: %w", err)
	}
	return admin, nil
}

var newReader = func(cfg config) (offsetClient, partitionConsumerSource, error) {
	consumerConfig := sarama.NewConfig()
	consumerConfig.Consumer.Return.Errors = true

	client, err := sarama.NewClient(cfg.brokers, consumerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("create kafka client: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return client, saramaConsumerAdapter{consumer: consumer}, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		fail("%s failed: %v", cfg.command, err)
	}
}

func readConfig(args []string, getenv func(string) string) (config, error) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return config{}, fmt.Errorf("command is required: %s|%s|%s", commandList, commandCreate, commandPeek)
	}

	cfg := config{command: strings.ToLower(strings.TrimSpace(args[0]))}
	var brokersRaw string

	fs := flag.NewFlagSet(cfg.command, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	fs.StringVar(&cfg.topic, "topic", kafka.TopicFailedOrders, "topic for peek")
	fs.IntVar(&cfg.partitions, "partitions", 3, "partitions for created topics")
	fs.IntVar(&cfg.replication, "replication", 1, "replication factor for created topics")
	fs.IntVar(&cfg.limit, "limit", defaultPeekLimit, "max number of messages to print per topic")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "idle timeout per partition")
	if err := fs.Parse(args[1:]); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = getenv("KAFKA_BROKERS")
	}
	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, errors.New("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}

	switch cfg.command {
	case commandList:
	case commandCreate:
		if cfg.partitions <= 0 {
			return config{}, errors.New("partitions must be > 0")
		}
		if cfg.replication <= 0 {
			return config{}, errors.New("replication must be > 0")
		}
	case commandPeek:
		if strings.TrimSpace(cfg.topic) == "" {
			return config{}, errors.New("topic is required")
		}
		if cfg.limit <= 0 {
			return config{}, errors.New("limit must be > 0")
		}
		if cfg.idleTimeout <= 0 {
			return config{}, errors.New("idle-timeout must be > 0")
		}
	default:
		return config{}, fmt.Errorf("unsupported command %q (use %s|%s|%s)", cfg.command, commandList, commandCreate, commandPeek)
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func run(ctx context.Context, cfg config, out io.Writer) error {
	switch cfg.command {
	case commandCreate:
		admin, err := newAdmin(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = admin.Close() }()
		return createTopics(admin, cfg, out)

	case commandList, commandPeek:
		client, consumer, err := newReader(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = consumer.Close()
			_ = client.Close()
		}()
		if cfg.command == commandList {
			return listTopics(client, out)
		}
		return peekTopic(ctx, client, consumer, cfg, out)

	default:
		return fmt.Errorf("unsupported command %q", cfg.command)
	}
}

// createTopics создаёт недостающие объявленные топики. Уже существующие
// топики не трогает.
func createTopics(admin topicAdmin, cfg config, out io.Writer) error {
	existing, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	detail := &sarama.TopicDetail{
		NumPartitions:     int32(cfg.partitions),
		ReplicationFactor: int16(cfg.replication),
	}
	for _, topic := range kafka.DeclaredTopics() {
		if _, ok := existing[topic.Name]; ok {
			_, _ = fmt.Fprintf(out, "%s\texists\n", topic.Name)
			continue
		}
		if err := admin.CreateTopic(topic.Name, detail, false); err != nil {
			if topicExists(err) {
				_, _ = fmt.Fprintf(out, "%s\texists\n", topic.Name)
				continue
			}
			return fmt.Errorf("create topic %s: %w", topic.Name, err)
		}
		_, _ = fmt.Fprintf(out, "%s\tcreated\n", topic.Name)
	}
	return nil
}

func topicExists(err error) bool {
	var topicErr *sarama.TopicError
	if errors.As(err, &topicErr) {
		return topicErr.Err == sarama.ErrTopicAlreadyExists
	}
	return errors.Is(err, sarama.ErrTopicAlreadyExists)
}

// listTopics печатает по каждому объявленному топику число партиций и
// суммарное количество сообщений между oldest и newest offset.
func listTopics(client offsetClient, out io.Writer) error {
	for _, topic := range kafka.DeclaredTopics() {
		partitions, err := client.Partitions(topic.Name)
		if err != nil {
			if errors.Is(err, sarama.ErrUnknownTopicOrPartition) {
				_, _ = fmt.Fprintf(out, "%s\tmissing\t%s\n", topic.Name, topic.Description)
				continue
			}
			return fmt.Errorf("get partitions for topic %s: %w", topic.Name, err)
		}

		var messages int64
		for _, partition := range partitions {
			oldest, newest, err := partitionBounds(client, topic.Name, partition)
			if err != nil {
				return err
			}
			messages += newest - oldest
		}
		_, _ = fmt.Fprintf(out, "%s\tpartitions=%d\tmessages=%d\t%s\n", topic.Name, len(partitions), messages, topic.Description)
	}
	return nil
}

func partitionBounds(client offsetClient, topic string, partition int32) (int64, int64, error) {
	oldest, err := client.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, 0, fmt.Errorf("get oldest offset for %s/%d: %w", topic, partition, err)
	}
	newest, err := client.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return 0, 0, fmt.Errorf("get newest offset for %s/%d: %w", topic, partition, err)
	}
	return oldest, newest, nil
}

// peekTopic читает последние сообщения топика, не коммитя offset,
// и печатает их в разобранном виде.
func peekTopic(ctx context.Context, client offsetClient, consumer partitionConsumerSource, cfg config, out io.Writer) error {
	partitions, err := client.Partitions(cfg.topic)
	if err != nil {
		return fmt.Errorf("get partitions for topic %s: %w", cfg.topic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	printed := 0
	for _, partition := range partitions {
		if printed >= cfg.limit {
			break
		}
		n, err := peekPartition(ctx, client, consumer, cfg, partition, cfg.limit-printed, out)
		if err != nil {
			return err
		}
		printed += n
	}

	log.WithFields(log.Fields{
		"topic":   cfg.topic,
		"printed": printed,
	}).Info("peek finished")
	return nil
}

func peekPartition(
	ctx context.Context,
	client offsetClient,
	consumer partitionConsumerSource,
	cfg config,
	partition int32,
	limit int,
	out io.Writer,
) (int, error) {
	oldest, newest, err := partitionBounds(client, cfg.topic, partition)
	if err != nil {
		return 0, err
	}
	if newest <= oldest {
		return 0, nil
	}

	start := newest - int64(limit)
	if start < oldest {
		start = oldest
	}

	pc, err := consumer.ConsumePartition(cfg.topic, partition, start)
	if err != nil {
		return 0, fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	idleTimer := time.NewTimer(cfg.idleTimeout)
	defer idleTimer.Stop()

	printed := 0
	for printed < limit {
		select {
		case <-ctx.Done():
			return printed, ctx.Err()
		case <-idleTimer.C:
			return printed, nil
		case err := <-pc.Errors():
			if err != nil {
				return printed, fmt.Errorf("partition %d consumer error: %w", partition, err)
			}
		case msg, ok := <-pc.Messages():
			if !ok || msg == nil {
				return printed, nil
			}
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(cfg.idleTimeout)

			if msg.Offset >= newest {
				return printed, nil
			}
			_, _ = fmt.Fprintf(out, "%s/%d@%d\t%s\n", msg.Topic, msg.Partition, msg.Offset, describeMessage(msg))
			printed++
		}
	}
	return printed, nil
}

// describeMessage разбирает полезную нагрузку по формату топика.
// Неразборчивые сообщения печатаются как есть.
func describeMessage(msg *sarama.ConsumerMessage) string {
	source := headerValue(msg, kafka.HeaderSource)

	switch msg.Topic {
	case kafka.TopicNewOrders, kafka.TopicFailedOrders:
		order, err := kafka.DecodeOrder(msg.Value)
		if err != nil {
			return fmt.Sprintf("undecodable order (%v): %s", err, msg.Value)
		}
		return fmt.Sprintf("order %s status=%s total=%s items=%d source=%s",
			order.ID, order.Status, order.TotalAmount, len(order.Items), source)
	case kafka.TopicOrderStatus:
		event, err := kafka.DecodeStatusUpdate(msg.Value)
		if err != nil {
			return fmt.Sprintf("undecodable status update (%v): %s", err, msg.Value)
		}
		return fmt.Sprintf("status %s -> %s tracking=%q source=%s",
			event.OrderID, event.Status, event.TrackingNumber, source)
	default:
		return string(msg.Value)
	}
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
