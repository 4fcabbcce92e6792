package function

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/serverledge-faas/smartlambda/internal/cache"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/utils"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"
)

var ErrDuplicateFunction = errors.New("function already exists")
var ErrInvalidFunction = errors.New("invalid function definition")

const etcdPrefix = "/function/"
const etcdTimeout = 5 * time.Second

// A serverless Function: a named, deployed entry point with its metadata.
type Function struct {
	Name          string
	Owner         string
	Runtime       string // only "go" is supported
	Class         string
	Method        string
	HasParameter  bool
	ParameterType string // type name of the parameter, empty to skip the check
	Async         bool   // default invocation mode when the request does not say
	MemoryMB      int64
	Timeout       int // seconds, 0 for the node default
}

func (f *Function) String() string {
	return f.Name
}

func (f *Function) Identifier() Identifier {
	return Identifier{Class: f.Class, Method: f.Method}
}

// Validate fills defaults and checks the required fields.
func (f *Function) Validate() error {
	if f.Runtime == "" {
		f.Runtime = "go"
	}
	switch {
	case strings.TrimSpace(f.Name) == "":
		return fmt.Errorf("%w: missing name", ErrInvalidFunction)
	case strings.ContainsRune(f.Name, '/'):
		return fmt.Errorf("%w: name cannot contain '/'", ErrInvalidFunction)
	case f.Class == "" || f.Method == "":
		return fmt.Errorf("%w: missing entry point", ErrInvalidFunction)
	case f.Runtime != "go":
		return fmt.Errorf("%w: unsupported runtime %q", ErrInvalidFunction, f.Runtime)
	case f.MemoryMB < 0 || f.Timeout < 0:
		return fmt.Errorf("%w: negative resource limit", ErrInvalidFunction)
	}
	return nil
}

func getEtcdKey(funcName string) string {
	return etcdPrefix + funcName
}

var functionCache *cache.Cache[*Function]
var cacheOnce sync.Once

func localCache() *cache.Cache[*Function] {
	cacheOnce.Do(func() {
		exp := config.GetDuration(config.CACHE_ITEM_EXPIRATION, 60*time.Second)
		functionCache = cache.New[*Function](exp, exp, config.GetInt(config.CACHE_SIZE, 100))
	})
	return functionCache
}

// GetFunction retrieves a Function given its name. If it doesn't exist, returns false
func GetFunction(name string) (*Function, bool) {
	if f, found := localCache().Get(name); found {
		// return a copy, the cached value is shared
		cp := *f
		return &cp, true
	}

	f, err := getFromEtcd(name)
	if err != nil {
		if !errors.Is(err, errNoSuchFunction) {
			logrus.WithField("function", name).Warnf("Could not read function: %v", err)
		}
		return nil, false
	}
	localCache().Set(name, f, cache.DefaultExpiration)
	cp := *f
	return &cp, true
}

var errNoSuchFunction = errors.New("no such function")

func getFromEtcd(name string) (*Function, error) {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), etcdTimeout)
	defer cancel()
	resp, err := cli.Get(ctx, getEtcdKey(name))
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) < 1 {
		return nil, errNoSuchFunction
	}

	var f Function
	if err := json.Unmarshal(resp.Kvs[0].Value, &f); err != nil {
		return nil, fmt.Errorf("corrupted function %s: %w", name, err)
	}
	return &f, nil
}

// Create stores a new function. It fails with ErrDuplicateFunction if the
// name is taken.
func (f *Function) Create() error {
	return f.save(true)
}

// SaveToEtcd stores the function, replacing any previous definition.
func (f *Function) SaveToEtcd() error {
	return f.save(false)
}

func (f *Function) save(exclusive bool) error {
	if err := f.Validate(); err != nil {
		return err
	}
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("could not marshal function: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), etcdTimeout)
	defer cancel()
	key := getEtcdKey(f.Name)
	if exclusive {
		resp, err := cli.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
			Then(clientv3.OpPut(key, string(payload))).
			Commit()
		if err != nil {
			return fmt.Errorf("failed put: %w", err)
		}
		if !resp.Succeeded {
			return fmt.Errorf("%w: %s", ErrDuplicateFunction, f.Name)
		}
	} else if _, err := cli.Put(ctx, key, string(payload)); err != nil {
		return fmt.Errorf("failed put: %w", err)
	}

	cp := *f
	localCache().Set(f.Name, &cp, cache.DefaultExpiration)
	return nil
}

// Delete removes a function from Etcd and the local cache.
func (f *Function) Delete() error {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), etcdTimeout)
	defer cancel()

	dresp, err := cli.Delete(ctx, getEtcdKey(f.Name))
	if err != nil {
		return fmt.Errorf("failed delete: %w", err)
	} else if dresp.Deleted != 1 {
		logrus.WithField("function", f.Name).Warn("Deleting a function that does not exist")
	}

	localCache().Delete(f.Name)
	return nil
}

// Exists checks if the function is already saved to Etcd
func (f *Function) Exists() bool {
	_, found := GetFunction(f.Name)
	return found
}

// GetAll returns the names of all the functions, sorted.
func GetAll() ([]string, error) {
	cli, err := utils.GetEtcdClient()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), etcdTimeout)
	defer cancel()

	resp, err := cli.Get(ctx, etcdPrefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		names = append(names, strings.TrimPrefix(string(kv.Key), etcdPrefix))
	}
	sort.Strings(names)
	return names, nil
}
