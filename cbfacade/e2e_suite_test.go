package cbfacade

import (
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

func TestCbfacade(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Cbfacade Suite")
}
