package main

import (
	"fmt"
	"strconv"

	"github.com/gmbyapa/topicmgr/topicmgr"
)

// runCommand dispatches the handful of verbs topicmgrctl supports:
//
//	topicmgrctl create <name> <partitions> <replicationFactor> [compact]
//	topicmgrctl delete <name>
//	topicmgrctl describe <name>
//	topicmgrctl list
func runCommand(mgr *topicmgr.Manager, args []string) error {
	switch args[0] {
	case `create`:
		return cmdCreate(mgr, args[1:])
	case `delete`:
		return cmdDelete(mgr, args[1:])
	case `describe`:
		return cmdDescribe(mgr, args[1:])
	case `list`:
		return cmdList(mgr)
	default:
		return fmt.Errorf(`unknown command %q`, args[0])
	}
}

func cmdCreate(mgr *topicmgr.Manager, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf(`usage: create <name> <partitions> <replicationFactor> [compact]`)
	}

	partitions, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf(`invalid partition count %q: %w`, args[1], err)
	}
	replicas, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf(`invalid replication factor %q: %w`, args[2], err)
	}

	opts := topicmgr.CreateTopicOptions{
		Partitions:        int32(partitions),
		ReplicationFactor: int16(replicas),
		Compaction:        len(args) > 3 && args[3] == `compact`,
	}

	if err := mgr.CreateTopic(args[0], opts); err != nil {
		return err
	}

	fmt.Printf("created topic %s\n", args[0])
	return nil
}

func cmdDelete(mgr *topicmgr.Manager, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf(`usage: delete <name>`)
	}

	if err := mgr.EnsureTopicIsDeletedAndBlockWithRetry(args[0]); err != nil {
		return err
	}

	fmt.Printf("deleted topic %s\n", args[0])
	return nil
}

func cmdDescribe(mgr *topicmgr.Manager, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf(`usage: describe <name>`)
	}

	cfg, err := mgr.GetCachedTopicConfig(args[0])
	if err != nil {
		return err
	}

	for k, v := range cfg {
		fmt.Printf("%s=%s\n", k, v)
	}
	return nil
}

func cmdList(mgr *topicmgr.Manager) error {
	topics, err := mgr.ListTopics()
	if err != nil {
		return err
	}

	for name := range topics {
		fmt.Println(name)
	}
	return nil
}
