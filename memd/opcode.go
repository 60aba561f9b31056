// Package memd implements the Couchbase binary memcached wire protocol:
// the 24-byte header, extras/framing-extras, and the opcode/status
// enumerations (spec.md §4.1, §6). It frames and parses messages; it
// does not interpret the meaning of a value body beyond what's needed to
// detect errors, not-my-vbucket redirects, and end of a multi-frame
// response (STAT).
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package memd

// CmdCode identifies a KV operation, shared between request and response
// frames of the same exchange.
type CmdCode uint8

// Opcodes named in spec.md §6.
const (
	CmdGet          CmdCode = 0x00
	CmdSet          CmdCode = 0x01
	CmdAdd          CmdCode = 0x02
	CmdReplace      CmdCode = 0x03
	CmdDelete       CmdCode = 0x04
	CmdIncrement    CmdCode = 0x05
	CmdDecrement    CmdCode = 0x06
	CmdNoop         CmdCode = 0x0a
	CmdAppend       CmdCode = 0x0e
	CmdPrepend      CmdCode = 0x0f
	CmdStat         CmdCode = 0x10
	CmdTouch        CmdCode = 0x1c
	CmdGAT          CmdCode = 0x1d
	CmdHello        CmdCode = 0x1f
	CmdSASLListMechs CmdCode = 0x20
	CmdSASLAuth     CmdCode = 0x21
	CmdSASLStep     CmdCode = 0x22

	CmdSelectBucket CmdCode = 0x89

	CmdGetReplica CmdCode = 0x83
	CmdObserve    CmdCode = 0x92
	CmdGetLocked  CmdCode = 0x94
	CmdUnlock     CmdCode = 0x95

	CmdFlush  CmdCode = 0x08
	CmdVersion CmdCode = 0x0b

	CmdGetClusterConfig      CmdCode = 0xb5
	CmdGetCollectionsManifest CmdCode = 0xba

	// Subdocument family (spec.md §4.1, §6).
	CmdSubDocGet          CmdCode = 0xc5
	CmdSubDocExists       CmdCode = 0xc6
	CmdSubDocDictAdd      CmdCode = 0xc7
	CmdSubDocDictUpsert   CmdCode = 0xc8
	CmdSubDocDelete       CmdCode = 0xc9
	CmdSubDocReplace      CmdCode = 0xca
	CmdSubDocArrayPushLast  CmdCode = 0xcb
	CmdSubDocArrayPushFirst CmdCode = 0xcc
	CmdSubDocArrayInsert    CmdCode = 0xcd
	CmdSubDocArrayAddUnique CmdCode = 0xce
	CmdSubDocCounter        CmdCode = 0xcf
	CmdSubDocMultiLookup    CmdCode = 0xd0
	CmdSubDocMultiMutation  CmdCode = 0xd1

	// Server-initiated, no client response expected.
	CmdClustermapChangeNotification CmdCode = 0x01 // magic 0x82
)

func (c CmdCode) String() string {
	if s, ok := cmdNames[c]; ok {
		return s
	}
	return "unknown"
}

var cmdNames = map[CmdCode]string{
	CmdGet: "get", CmdSet: "set", CmdAdd: "add", CmdReplace: "replace",
	CmdDelete: "delete", CmdIncrement: "increment", CmdDecrement: "decrement",
	CmdNoop: "noop", CmdAppend: "append", CmdPrepend: "prepend", CmdStat: "stat",
	CmdTouch: "touch", CmdGAT: "gat", CmdHello: "hello",
	CmdSASLListMechs: "sasl_list_mechs", CmdSASLAuth: "sasl_auth", CmdSASLStep: "sasl_step",
	CmdSelectBucket: "select_bucket", CmdGetReplica: "get_replica",
	CmdObserve: "observe", CmdGetLocked: "get_locked", CmdUnlock: "unlock",
	CmdGetClusterConfig: "get_cluster_config", CmdGetCollectionsManifest: "get_collections_manifest",
	CmdFlush: "flush", CmdVersion: "version",
	CmdSubDocGet: "subdoc_get", CmdSubDocExists: "subdoc_exists",
	CmdSubDocDictAdd: "subdoc_dict_add", CmdSubDocDictUpsert: "subdoc_dict_upsert",
	CmdSubDocDelete: "subdoc_delete", CmdSubDocReplace: "subdoc_replace",
	CmdSubDocArrayPushLast: "subdoc_array_push_last", CmdSubDocArrayPushFirst: "subdoc_array_push_first",
	CmdSubDocArrayInsert: "subdoc_array_insert", CmdSubDocArrayAddUnique: "subdoc_array_add_unique",
	CmdSubDocCounter: "subdoc_counter", CmdSubDocMultiLookup: "subdoc_multi_lookup",
	CmdSubDocMultiMutation: "subdoc_multi_mutation",
}
